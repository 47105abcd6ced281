package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nova-run/novad/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// ManifestFilenames are tried in order for each plugin directory.
var ManifestFilenames = []string{"plugin.json", "plugin.yaml", "plugin.yml"}

// LoadManifest reads and validates the manifest in dir, returning the
// parsed Manifest with Dir populated.
func LoadManifest(dir string) (*types.Manifest, error) {
	var data []byte
	var path string
	var err error

	for _, name := range ManifestFilenames {
		candidate := filepath.Join(dir, name)
		data, err = os.ReadFile(candidate)
		if err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no manifest file found in %s (tried %v)", dir, ManifestFilenames)
	}

	var m types.Manifest
	if filepath.Ext(path) == ".json" {
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	m.Dir = dir

	if err := ValidateManifest(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ValidateManifest rejects unknown source, unknown capabilities, missing
// required fields, and duplicate agent ids, per spec 4.2.
func ValidateManifest(m *types.Manifest) error {
	if m.Name == "" {
		return fmt.Errorf("manifest: missing required field name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest %s: missing required field version", m.Name)
	}
	if m.EntryPoint == "" {
		return fmt.Errorf("manifest %s: missing required field entryPoint", m.Name)
	}
	if !types.ValidSources[m.Source] {
		return fmt.Errorf("manifest %s: unknown source %q", m.Name, m.Source)
	}
	for _, c := range m.Capabilities {
		if !types.ValidCapabilities[c] {
			return fmt.Errorf("manifest %s: unknown capability %q", m.Name, c)
		}
	}
	if len(m.Agents) == 0 {
		return fmt.Errorf("manifest %s: no agents declared", m.Name)
	}
	seen := make(map[string]bool, len(m.Agents))
	for _, a := range m.Agents {
		if a.ID == "" {
			return fmt.Errorf("manifest %s: agent missing id", m.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("manifest %s: duplicate agent id %q", m.Name, a.ID)
		}
		seen[a.ID] = true
		for _, c := range a.Capabilities {
			if !types.ValidCapabilities[c] {
				return fmt.Errorf("manifest %s: agent %s: unknown capability %q", m.Name, a.ID, c)
			}
		}
	}
	return nil
}
