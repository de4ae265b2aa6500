package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"toomanypages/internal/config"
	"toomanypages/internal/health"
	"toomanypages/internal/metrics"
	"toomanypages/internal/site"
	"toomanypages/internal/toomanypages"
)

var version string = "<dev>"

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid log level, defaulting to info", "level", level)
		return slog.LevelInfo
	}
}

type Globals struct {
	Config   string `help:"Path to configuration file." default:"config.json" type:"path" env:"TOOMANYPAGES_CONFIG"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info" env:"TOOMANYPAGES_LOG_LEVEL"`
}

type cli struct {
	Globals

	Serve   serveCmd         `cmd:"" default:"1" help:"Serve the site."`
	Check   checkCmd         `cmd:"" help:"Validate the configuration and prepare the sentinel directory."`
	Version kong.VersionFlag `help:"Print version and exit."`
}

type serveCmd struct {
	Addr       string `help:"Address to listen on." default:":8080" env:"TOOMANYPAGES_ADDR"`
	HealthPort int    `help:"Port for /health and /metrics." default:"8081" env:"TOOMANYPAGES_HEALTH_PORT"`
	Watch      bool   `help:"Reload when the configuration file changes." default:"true" negatable:""`
}

type checkCmd struct{}

func (c *checkCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return err
	}
	if err := prepareSentinels(cfg); err != nil {
		return err
	}
	slog.Info("Configuration is valid", "config", g.Config, "plugins", len(cfg.EnabledPlugins()))
	return nil
}

func (c *serveCmd) Run(g *Globals) error {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	m := metrics.New()
	healthServer := health.New(c.HealthPort, m.Handler())
	go func() {
		if err := healthServer.Start(); err != nil {
			slog.Error("Health server failed", "error", err)
		}
	}()

	if err := prepareSentinels(cfg); err != nil {
		return err
	}

	siteHandler, err := site.New(cfg, version, site.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}
	defer siteHandler.Close()

	server := &http.Server{
		Addr:              c.Addr,
		Handler:           siteHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "addr", c.Addr, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	healthServer.MarkReady()

	reload := func(newCfg *config.Config) {
		healthServer.MarkNotReady()
		defer healthServer.MarkReady()

		if err := prepareSentinels(newCfg); err != nil {
			slog.Error("Failed to prepare sentinel directory", "error", err)
			return
		}
		if err := siteHandler.UpdateConfig(newCfg); err != nil {
			slog.Error("Failed to update site configuration", "error", err)
			return
		}
		slog.Info("Configuration reloaded successfully")
	}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if c.Watch {
		go func() {
			if err := config.Watch(watchCtx, g.Config, reload); err != nil {
				slog.Error("Config watcher stopped", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-serverErr:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGHUP:
				slog.Info("Reloading configuration")
				newCfg, err := config.Load(g.Config)
				if err != nil {
					slog.Error("Failed to reload configuration", "error", err)
					continue
				}
				reload(newCfg)
			case syscall.SIGINT, syscall.SIGTERM:
				slog.Info("Shutting down server")
				healthServer.MarkNotReady()
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(ctx); err != nil {
					return fmt.Errorf("server shutdown failed: %w", err)
				}
				if err := healthServer.Stop(); err != nil {
					slog.Error("Health server shutdown failed", "error", err)
				}
				return nil
			}
		}
	}
}

// prepareSentinels makes sure the empty directory of every enabled
// TooManyPages entry exists before requests are served.
func prepareSentinels(cfg *config.Config) error {
	for _, p := range cfg.EnabledPlugins() {
		if p.Name != toomanypages.Name || p.Path != "" {
			continue
		}
		instance, err := toomanypages.Factory(p.Settings)
		if err != nil {
			return fmt.Errorf("invalid %s settings: %w", p.Name, err)
		}
		dir := instance.(*toomanypages.Plugin).Options().SentinelDir
		if err := toomanypages.EnsureSentinel(dir); err != nil {
			return err
		}
		slog.Info("Sentinel directory ready", "dir", dir)
	}
	return nil
}

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		slog.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("toomanypages"),
		kong.Description("Flat-file site host that skips page discovery on large sites."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(c.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := ctx.Run(&c.Globals); err != nil {
		slog.Error("Command failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}
