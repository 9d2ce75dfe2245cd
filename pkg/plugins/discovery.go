// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package plugins

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DiscoveryConfig lists where plugin executables live.
type DiscoveryConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Paths              []string `yaml:"paths" json:"paths"`
	ScanSubdirectories bool     `yaml:"scan_subdirectories" json:"scan_subdirectories"`
}

// DiscoveredPlugin pairs an executable with its validated manifest.
type DiscoveredPlugin struct {
	Name         string
	Path         string
	ManifestPath string
	Manifest     *PluginManifest
}

// Discover scans cfg's paths for plugin manifests. A plugin is a
// `<name>.plugin.yaml` manifest next to an executable of the same base
// name. Broken manifests are logged and skipped — one bad plugin must
// not take discovery down. Missing paths are silently fine: the default
// search locations usually don't exist.
func Discover(ctx context.Context, cfg *DiscoveryConfig) ([]*DiscoveredPlugin, error) {
	if cfg == nil {
		cfg = &DiscoveryConfig{
			Enabled:            true,
			Paths:              []string{"./plugins", "~/.olav/plugins"},
			ScanSubdirectories: true,
		}
	}
	if !cfg.Enabled {
		return nil, nil
	}

	var found []*DiscoveredPlugin
	seen := map[string]bool{}

	for _, root := range cfg.Paths {
		root = expandHome(root)
		if _, err := os.Stat(root); err != nil {
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if path != root && !cfg.ScanSubdirectories {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".plugin.yaml") {
				return nil
			}

			p, err := readManifest(path)
			if err != nil {
				slog.Warn("skipping plugin with broken manifest", "manifest", path, "error", err)
				return nil
			}
			if seen[p.Manifest.Name] {
				slog.Warn("skipping duplicate plugin name", "name", p.Manifest.Name, "manifest", path)
				return nil
			}
			seen[p.Manifest.Name] = true
			found = append(found, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", root, err)
		}
	}
	return found, nil
}

// readManifest parses and validates one manifest and checks the
// executable beside it.
func readManifest(manifestPath string) (*DiscoveredPlugin, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, err
	}
	var manifest PluginManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	execPath := strings.TrimSuffix(manifestPath, ".plugin.yaml")
	info, err := os.Stat(execPath)
	if err != nil {
		return nil, fmt.Errorf("plugin executable %s: %w", execPath, err)
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return nil, fmt.Errorf("plugin %s is not an executable file", execPath)
	}

	return &DiscoveredPlugin{
		Name:         manifest.Name,
		Path:         execPath,
		ManifestPath: manifestPath,
		Manifest:     &manifest,
	}, nil
}

// FilterByType keeps the plugins serving one extension point.
func FilterByType(discovered []*DiscoveredPlugin, t PluginType) []*DiscoveredPlugin {
	var out []*DiscoveredPlugin
	for _, p := range discovered {
		if p.Manifest.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func expandHome(path string) string {
	if after, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, after)
		}
	}
	return path
}
