package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/pkg/types"
)

// LoadDotEnv loads a .env file from dir if present. Missing files are not
// an error; this is a dev-convenience step run before Load.
func LoadDotEnv(dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))
}

// DefaultConfig returns the built-in default used when no config file is
// present or the file fails to parse.
func DefaultConfig() *types.Config {
	return &types.Config{
		Plugins:  make(map[string]types.PluginConfig),
		Provider: make(map[string]types.ProviderConfig),
		Server:   types.ServerConfig{Port: 8080, Host: "0.0.0.0"},
	}
}

// Load reads nova.config.json from base's config path. A missing or
// malformed file is logged and DefaultConfig is returned; Load never
// returns an error that should stop the server from starting.
func Load(base string) *types.Config {
	cfg := DefaultConfig()

	path := ConfigPath(base)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("path", path).Msg("config: failed to read, using defaults")
		}
		applyEnvOverrides(cfg)
		return cfg
	}

	data = jsonc.ToJSON(data)

	var parsed types.Config
	if err := json.Unmarshal(data, &parsed); err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("config: malformed, using defaults")
		applyEnvOverrides(cfg)
		return cfg
	}

	if parsed.Plugins == nil {
		parsed.Plugins = make(map[string]types.PluginConfig)
	}
	if parsed.Provider == nil {
		parsed.Provider = make(map[string]types.ProviderConfig)
	}
	if parsed.Server.Port == 0 {
		parsed.Server.Port = cfg.Server.Port
	}
	if parsed.Server.Host == "" {
		parsed.Server.Host = cfg.Server.Host
	}

	applyEnvOverrides(&parsed)
	return &parsed
}

// applyEnvOverrides applies NOVA_PORT on top of a loaded or default config.
func applyEnvOverrides(cfg *types.Config) {
	if v := os.Getenv("NOVA_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

// Loader holds a process-lifetime config value, reloadable on demand or
// via an fsnotify watch on its source file.
type Loader struct {
	mu   sync.RWMutex
	base string
	cfg  *types.Config

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader loads base's config once and returns a Loader wrapping it.
func NewLoader(base string) *Loader {
	return &Loader{base: base, cfg: Load(base)}
}

// Current returns the most recently loaded config.
func (l *Loader) Current() *types.Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Reload invalidates the cached config and re-parses the file.
func (l *Loader) Reload() {
	cfg := Load(l.base)
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// IsPluginEnabled reports whether the named plugin is enabled: true if
// unlisted, the listed value otherwise.
func (l *Loader) IsPluginEnabled(name string) bool {
	cfg := l.Current()
	p, ok := cfg.Plugins[name]
	if !ok {
		return true
	}
	return p.Enabled
}

// IsAgentEnabled reports whether plugin/agent is enabled: false if the
// plugin is disabled, true if the plugin is enabled and the agent is
// unlisted, the listed boolean otherwise.
func (l *Loader) IsAgentEnabled(plugin, agent string) bool {
	cfg := l.Current()
	p, ok := cfg.Plugins[plugin]
	if !ok {
		return true
	}
	if !p.Enabled {
		return false
	}
	if p.Agents == nil {
		return true
	}
	enabled, listed := p.Agents[agent]
	if !listed {
		return true
	}
	return enabled
}

// PluginOptions returns the configured options map for a plugin, or an
// empty map if none are configured.
func (l *Loader) PluginOptions(name string) map[string]any {
	cfg := l.Current()
	p, ok := cfg.Plugins[name]
	if !ok || p.Options == nil {
		return map[string]any{}
	}
	return p.Options
}

// DefaultAgent returns the configured "plugin:agent" default reference.
func (l *Loader) DefaultAgent() string {
	return l.Current().Defaults.Agent
}

// Watch starts an fsnotify watch on the config file and calls Reload
// on every write or create event it reports; events are not debounced.
// Watch is idempotent; calling it twice is a no-op.
func (l *Loader) Watch() error {
	l.mu.Lock()
	if l.watcher != nil {
		l.mu.Unlock()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		l.mu.Unlock()
		return err
	}
	if err := w.Add(ConfigPath(l.base)); err != nil {
		// The file may not exist yet; that's fine, just log and move on.
		logging.Debug().Err(err).Msg("config: watch target missing, skipping hot-reload")
	}
	l.watcher = w
	l.done = make(chan struct{})
	l.mu.Unlock()

	go func() {
		for {
			select {
			case <-l.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					l.Reload()
					logging.Info().Str("path", ev.Name).Msg("config: reloaded")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("config: watch error")
			}
		}
	}()
	return nil
}

// Close stops the config file watch, if running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher == nil {
		return nil
	}
	close(l.done)
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// Save writes config to path as indented JSON.
func Save(cfg *types.Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
