package plugins

import (
	"fmt"
	"log/slog"
	goplugin "plugin"
	"sync"

	"toomanypages/internal/config"
	"toomanypages/pkg/plugin"
)

// LoadedPlugin is a plugin entry resolved from the configuration. It creates
// a new instance for every request.
type LoadedPlugin struct {
	factory  plugin.Factory
	settings map[string]any
	path     string
	name     string
}

func (lp *LoadedPlugin) Name() string {
	return lp.name
}

func (lp *LoadedPlugin) newInstance() (plugin.Plugin, error) {
	instance, err := lp.factory(lp.settings)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", lp.name, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("plugin %s: factory returned nil", lp.name)
	}
	return instance, nil
}

type Manager struct {
	mu       sync.RWMutex
	builtins map[string]plugin.Factory
	opened   map[string]plugin.Factory
	plugins  []*LoadedPlugin
}

func New() (*Manager, error) {
	return &Manager{
		builtins: make(map[string]plugin.Factory),
		opened:   make(map[string]plugin.Factory),
	}, nil
}

// Register makes a plugin compiled into the binary available by name.
func (m *Manager) Register(name string, factory plugin.Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builtins[name] = factory
}

// LoadPlugins resolves every enabled plugin in cfg, in order. Entries with a
// path are opened as Go plugins; the rest must be registered built-ins.
// Shared objects opened by an earlier call are reused.
func (m *Manager) LoadPlugins(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var loaded []*LoadedPlugin

	for _, pluginConfig := range cfg.EnabledPlugins() {
		factory, err := m.resolve(pluginConfig)
		if err != nil {
			return fmt.Errorf("failed to load plugin %s: %w", pluginConfig.Name, err)
		}

		lp := &LoadedPlugin{
			factory:  factory,
			settings: pluginConfig.Settings,
			path:     pluginConfig.Path,
			name:     pluginConfig.Name,
		}

		// Fail on bad settings at load time rather than on the first request.
		if _, err := lp.newInstance(); err != nil {
			return fmt.Errorf("failed to load plugin %s: %w", pluginConfig.Name, err)
		}

		loaded = append(loaded, lp)
		slog.Info("Loaded plugin", "path", pluginConfig.Path, "name", pluginConfig.Name)
	}

	m.plugins = loaded
	return nil
}

func (m *Manager) resolve(pluginConfig config.PluginConfig) (plugin.Factory, error) {
	if pluginConfig.Path == "" {
		factory, ok := m.builtins[pluginConfig.Name]
		if !ok {
			return nil, fmt.Errorf("unknown built-in plugin '%s'", pluginConfig.Name)
		}
		return factory, nil
	}

	key := pluginConfig.Path + "/" + pluginConfig.Name
	if factory, ok := m.opened[key]; ok {
		return factory, nil
	}

	factory, err := openPlugin(pluginConfig.Path, pluginConfig.Name)
	if err != nil {
		return nil, err
	}
	m.opened[key] = factory
	return factory, nil
}

func openPlugin(path, name string) (plugin.Factory, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plugin file: %w", err)
	}

	symbol, err := p.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find symbol '%s' in plugin: %w", name, err)
	}

	return factoryFromSymbol(name, symbol)
}

// factoryFromSymbol accepts an exported factory function or a variable
// holding one.
func factoryFromSymbol(name string, symbol any) (plugin.Factory, error) {
	switch f := symbol.(type) {
	case func(map[string]any) (plugin.Plugin, error):
		return f, nil
	case *func(map[string]any) (plugin.Plugin, error):
		return *f, nil
	case plugin.Factory:
		return f, nil
	case *plugin.Factory:
		return *f, nil
	default:
		return nil, fmt.Errorf("symbol '%s' is not a plugin factory (got %T)", name, symbol)
	}
}

// Instantiate creates this request's plugin instances in configured order.
func (m *Manager) Instantiate() ([]plugin.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instances := make([]plugin.Plugin, 0, len(m.plugins))
	for _, lp := range m.plugins {
		instance, err := lp.newInstance()
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (m *Manager) GetPlugin(name string) *LoadedPlugin {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, lp := range m.plugins {
		if lp.name == name {
			return lp
		}
	}
	return nil
}
