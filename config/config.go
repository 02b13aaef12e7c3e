// Package config implements the optional YAML neighbor-override file
// (spec.md §10's supplemental feature): additive to the CLI-positional
// neighbor descriptors spec §6 mandates, letting an operator supply extra
// static neighbors or override a relation without retyping the full
// command line. CLI arguments always win on conflict.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// NeighborOverride is one entry in the YAML file: a neighbor descriptor
// in the same shape as a CLI PORT-NEIGHBOR_IP-RELATION token, split into
// fields.
type NeighborOverride struct {
	Port     int    `yaml:"port"`
	Address  string `yaml:"address"`
	Relation string `yaml:"relation"`
}

// File is the top-level shape of a --config YAML document.
type File struct {
	Neighbors []NeighborOverride `yaml:"neighbors,omitempty"`
}

// Load reads and parses a neighbor-override file at path. An empty path
// fails like any unreadable one; callers treat an empty path as "no
// config file" and do not call Load.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return f, nil
}

// Merge combines base (CLI-derived descriptors, in order) with overrides
// loaded from a config file. A config-file entry for an address already
// present in base is ignored — CLI arguments win on conflict, per
// spec.md §10. Config-file entries for new addresses are appended after
// base, preserving base's order first.
func Merge(base []NeighborOverride, overrides []NeighborOverride) []NeighborOverride {
	seen := make(map[string]bool, len(base))
	out := make([]NeighborOverride, 0, len(base)+len(overrides))
	for _, n := range base {
		seen[n.Address] = true
		out = append(out, n)
	}
	for _, n := range overrides {
		if seen[n.Address] {
			continue
		}
		seen[n.Address] = true
		out = append(out, n)
	}
	return out
}
