package plugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/pkg/types"
)

// Loader scans a plugins directory, validates each manifest, and
// registers resulting Plugin instances with a Registry. Failures on one
// plugin directory never abort discovery of the others.
type Loader struct {
	base     string
	registry *Registry
	cfg      ConfigSource
	factories map[types.Source]Factory

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader constructs a Loader wired to registry and cfg. factories
// maps each manifest source to the concrete plugin constructor; sources
// with no registered factory are skipped with a log.
func NewLoader(base string, registry *Registry, cfg ConfigSource, factories map[types.Source]Factory) *Loader {
	return &Loader{base: base, registry: registry, cfg: cfg, factories: factories}
}

// PluginsDir returns <base>/plugins.
func (l *Loader) PluginsDir() string {
	return filepath.Join(l.base, "plugins")
}

// Discover scans PluginsDir for directories containing a manifest,
// parses and validates each, and registers the resulting Plugin.
// Ordering is unspecified; a failure on one plugin is logged and
// skipped without aborting the rest.
func (l *Loader) Discover(ctx context.Context) {
	entries, err := os.ReadDir(l.PluginsDir())
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn().Err(err).Str("dir", l.PluginsDir()).Msg("plugin: failed to scan plugins directory")
		}
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.PluginsDir(), entry.Name())
		l.loadOne(ctx, dir)
	}
}

func (l *Loader) loadOne(ctx context.Context, dir string) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		logging.Warn().Err(err).Str("dir", dir).Msg("plugin: manifest invalid, skipping")
		return
	}

	if !l.cfg.IsPluginEnabled(manifest.Name) {
		logging.Debug().Str("plugin", manifest.Name).Msg("plugin: disabled in config, skipping")
		return
	}

	factory, ok := l.factories[manifest.Source]
	if !ok {
		logging.Warn().Str("plugin", manifest.Name).Str("source", string(manifest.Source)).
			Msg("plugin: no factory registered for source, skipping")
		return
	}

	p, err := factory(manifest, l.cfg)
	if err != nil {
		logging.Warn().Err(err).Str("plugin", manifest.Name).Msg("plugin: load error, skipping")
		return
	}

	if err := p.Initialize(ctx); err != nil {
		logging.Warn().Err(err).Str("plugin", manifest.Name).Msg("plugin: initialize error, skipping")
		return
	}

	l.registry.Register(p)
}

// Reload shuts down the registry, then re-runs discovery from scratch.
func (l *Loader) Reload(ctx context.Context) {
	l.registry.Shutdown(ctx)
	l.Discover(ctx)
}

// Watch starts an fsnotify watch on the plugins directory and calls
// Reload whenever an entry is created or removed. Idempotent.
func (l *Loader) Watch(ctx context.Context) error {
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
	if err := w.Add(l.PluginsDir()); err != nil {
		logging.Debug().Err(err).Msg("plugin: watch target missing, skipping hot-reload")
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
				if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					logging.Info().Str("path", ev.Name).Msg("plugin: directory changed, reloading")
					l.Reload(ctx)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logging.Warn().Err(err).Msg("plugin: watch error")
			}
		}
	}()
	return nil
}

// Close stops the plugins-directory watch, if running.
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
