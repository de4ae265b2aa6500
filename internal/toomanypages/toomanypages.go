// Package toomanypages skips the host's page discovery on sites with
// thousands of content files.
//
// Before discovery it points content_dir at an empty sentinel directory, so
// the host finds no pages, and afterwards it puts the real directory back so
// the requested page still renders. The page list stays empty for the rest of
// the request. The admin editor root needs the full list, so requests to it
// from a logged in (or logging in) user are left alone.
package toomanypages

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"toomanypages/pkg/plugin"
)

// Name is the name the plugin is registered under.
const Name = "TooManyPages"

// DefaultAdminRoute is the first path segment of the admin editor.
const DefaultAdminRoute = "pico_edit"

const (
	sentinelDirName    = "picotmp_dummy"
	settingAdminBypass = "admin_bypass"
	settingAdminRoute  = "admin_route"
	settingSentinelDir = "sentinel_dir"
)

var (
	_ plugin.ConfigLoadedHook = (*Plugin)(nil)
	_ plugin.RequestURLHook   = (*Plugin)(nil)
	_ plugin.RequestFileHook  = (*Plugin)(nil)
	_ plugin.PagesLoadingHook = (*Plugin)(nil)
	_ plugin.PagesLoadedHook  = (*Plugin)(nil)
)

// Options selects the plugin variant.
type Options struct {
	// AdminBypass enables the admin route check. When false the plugin always
	// suppresses discovery.
	AdminBypass bool
	// AdminRoute is the first path segment of the admin editor.
	AdminRoute string
	// SentinelDir is the empty directory discovery is pointed at.
	SentinelDir string
}

// DefaultOptions returns the extended variant with the sentinel directory
// next to the running executable.
func DefaultOptions() Options {
	return Options{
		AdminBypass: true,
		AdminRoute:  DefaultAdminRoute,
		SentinelDir: DefaultSentinelDir(),
	}
}

// DefaultSentinelDir returns <install dir>/picotmp_dummy/.
func DefaultSentinelDir() string {
	dir := "."
	if exe, err := os.Executable(); err == nil {
		dir = filepath.Dir(exe)
	}
	return filepath.Join(dir, sentinelDirName) + string(filepath.Separator)
}

// Plugin is the request-scoped discovery toggle. A new instance is created
// for every request.
type Plugin struct {
	opts Options

	config plugin.Config

	// contentDir holds the raw content_dir value between the two
	// discovery hooks.
	contentDir    any
	hadContentDir bool
	saved         bool

	adminBypass   bool
	bypassCleared bool
}

// New returns a toggle for one request.
func New(opts Options) *Plugin {
	if opts.AdminRoute == "" {
		opts.AdminRoute = DefaultAdminRoute
	}
	if opts.SentinelDir == "" {
		opts.SentinelDir = DefaultSentinelDir()
	}
	return &Plugin{opts: opts}
}

// Factory builds a Plugin from the settings block of the configuration file.
func Factory(settings map[string]any) (plugin.Plugin, error) {
	opts := DefaultOptions()

	if v, ok := settings[settingAdminBypass]; ok {
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s must be a boolean, got %T", settingAdminBypass, v)
		}
		opts.AdminBypass = b
	}
	if v, ok := settings[settingAdminRoute]; ok {
		s, ok := v.(string)
		if !ok || s == "" || strings.Contains(s, "/") {
			return nil, fmt.Errorf("%s must be a single path segment, got %v", settingAdminRoute, v)
		}
		opts.AdminRoute = s
	}
	if v, ok := settings[settingSentinelDir]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s must be a string, got %T", settingSentinelDir, v)
		}
		opts.SentinelDir = s
	}

	return New(opts), nil
}

func (p *Plugin) Name() string {
	return Name
}

// Options returns the options the plugin was created with.
func (p *Plugin) Options() Options {
	return p.opts
}

// AdminBypass reports whether discovery will be left alone.
func (p *Plugin) AdminBypass() bool {
	return p.adminBypass
}

// OnConfigLoaded keeps a handle to the request's options for later hooks.
func (p *Plugin) OnConfigLoaded(cfg plugin.Config) {
	p.config = cfg
}

// OnRequestURL turns on the bypass for the bare admin route only, not for its
// action URLs such as "pico_edit/login".
func (p *Plugin) OnRequestURL(url string) {
	if !p.opts.AdminBypass || p.bypassCleared {
		return
	}
	parts := strings.Split(url, "/")
	if parts[0] == p.opts.AdminRoute && len(parts) == 1 {
		p.adminBypass = true
	}
}

// OnRequestFile drops the bypass for visitors of the admin root that are
// neither logged in nor submitting the login form. It never turns it on.
func (p *Plugin) OnRequestFile(file string, signals plugin.RequestSignals) {
	if p.adminBypass && !signals.SessionAuthenticated && !signals.CredentialSubmitted {
		p.adminBypass = false
		p.bypassCleared = true
	}
}

// OnPagesLoading points content_dir at the sentinel directory.
func (p *Plugin) OnPagesLoading() {
	if p.adminBypass || p.config == nil {
		return
	}
	p.contentDir, p.hadContentDir = p.config[plugin.KeyContentDir]
	p.saved = true
	p.config[plugin.KeyContentDir] = p.opts.SentinelDir
}

// OnPagesLoaded restores content_dir. The page arguments are not touched.
func (p *Plugin) OnPagesLoaded(pages []plugin.Page, current, previous, next *plugin.Page) {
	if !p.saved {
		return
	}
	if p.hadContentDir {
		p.config[plugin.KeyContentDir] = p.contentDir
	} else {
		delete(p.config, plugin.KeyContentDir)
	}
	p.saved = false
}
