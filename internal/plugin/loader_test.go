package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-run/novad/pkg/types"
)

type stubConfigSource struct {
	disabledPlugins map[string]bool
}

func (s stubConfigSource) IsPluginEnabled(name string) bool {
	return !s.disabledPlugins[name]
}
func (s stubConfigSource) IsAgentEnabled(plugin, agent string) bool { return true }
func (s stubConfigSource) PluginOptions(name string) map[string]any { return nil }

func writePluginDir(t *testing.T, base, name, manifestJSON string) {
	t.Helper()
	dir := filepath.Join(base, "plugins", name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), []byte(manifestJSON), 0o644))
}

func stubFactory(calls *int) Factory {
	return func(manifest *types.Manifest, cfg ConfigSource) (Plugin, error) {
		*calls++
		return newStubPlugin(manifest.Name, types.Agent{ID: "default", Enabled: true}), nil
	}
}

func TestLoader_Discover_RegistersValidPlugins(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "claude_cli", `{"name":"claude_cli","version":"1.0.0","source":"cli","entryPoint":"claude","agents":[{"id":"sonnet","name":"Sonnet"}]}`)

	registry := NewRegistry()
	var calls int
	loader := NewLoader(base, registry, stubConfigSource{}, map[types.Source]Factory{types.SourceCLI: stubFactory(&calls)})

	loader.Discover(context.Background())

	assert.Equal(t, 1, calls)
	assert.Len(t, registry.Plugins(), 1)
}

func TestLoader_Discover_SkipsInvalidManifestWithoutAbortingOthers(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "broken", `{"name":"broken"}`)
	writePluginDir(t, base, "claude_cli", `{"name":"claude_cli","version":"1.0.0","source":"cli","entryPoint":"claude","agents":[{"id":"sonnet","name":"Sonnet"}]}`)

	registry := NewRegistry()
	var calls int
	loader := NewLoader(base, registry, stubConfigSource{}, map[types.Source]Factory{types.SourceCLI: stubFactory(&calls)})

	loader.Discover(context.Background())

	assert.Equal(t, 1, calls)
	assert.Len(t, registry.Plugins(), 1)
}

func TestLoader_Discover_SkipsDisabledPlugin(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "claude_cli", `{"name":"claude_cli","version":"1.0.0","source":"cli","entryPoint":"claude","agents":[{"id":"sonnet","name":"Sonnet"}]}`)

	registry := NewRegistry()
	var calls int
	cfg := stubConfigSource{disabledPlugins: map[string]bool{"claude_cli": true}}
	loader := NewLoader(base, registry, cfg, map[types.Source]Factory{types.SourceCLI: stubFactory(&calls)})

	loader.Discover(context.Background())

	assert.Zero(t, calls)
	assert.Empty(t, registry.Plugins())
}

func TestLoader_Discover_SkipsUnknownSource(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "weird_api", `{"name":"weird_api","version":"1.0.0","source":"api","entryPoint":"x","agents":[{"id":"default","name":"Default"}]}`)

	registry := NewRegistry()
	loader := NewLoader(base, registry, stubConfigSource{}, map[types.Source]Factory{types.SourceCLI: stubFactory(new(int))})

	loader.Discover(context.Background())

	assert.Empty(t, registry.Plugins())
}

func TestLoader_Discover_MissingDirectoryIsNotAnError(t *testing.T) {
	base := t.TempDir()
	registry := NewRegistry()
	loader := NewLoader(base, registry, stubConfigSource{}, map[types.Source]Factory{types.SourceCLI: stubFactory(new(int))})

	loader.Discover(context.Background())

	assert.Empty(t, registry.Plugins())
}

func TestLoader_PluginsDir(t *testing.T) {
	loader := NewLoader("/base", nil, stubConfigSource{}, nil)
	assert.Equal(t, filepath.Join("/base", "plugins"), loader.PluginsDir())
}

func TestLoader_Reload_ReplacesRegistryContents(t *testing.T) {
	base := t.TempDir()
	writePluginDir(t, base, "claude_cli", `{"name":"claude_cli","version":"1.0.0","source":"cli","entryPoint":"claude","agents":[{"id":"sonnet","name":"Sonnet"}]}`)

	registry := NewRegistry()
	var calls int
	loader := NewLoader(base, registry, stubConfigSource{}, map[types.Source]Factory{types.SourceCLI: stubFactory(&calls)})
	loader.Discover(context.Background())
	require.Len(t, registry.Plugins(), 1)

	loader.Reload(context.Background())

	assert.Equal(t, 2, calls)
	assert.Len(t, registry.Plugins(), 1)
}

func TestLoader_Close_WithoutWatchIsNoop(t *testing.T) {
	loader := NewLoader("/base", NewRegistry(), stubConfigSource{}, nil)
	assert.NoError(t, loader.Close())
}
