// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/tidwall/jsonc"
)

// Region names a group of relay nodes.
type Region string

// Built-in regions.
const (
	RegionEuropeWest       Region = "europe-west"
	RegionNorthAmericaEast Region = "north-america-east"
)

// Directory is the relay node table. Values are treated as immutable:
// every method returns fresh maps and slices.
type Directory struct {
	// Regions maps each region to its relay node host names.
	Regions map[Region][]string `json:"regions"`

	// Aliases maps a node host name to alternate host names for the
	// same node, tried in order when the node itself does not answer.
	Aliases map[string][]string `json:"aliases,omitempty"`
}

// DefaultDirectory returns a fresh copy of the built-in node table.
func DefaultDirectory() Directory {
	return Directory{
		Regions: map[Region][]string{
			RegionEuropeWest: {
				"beacon-node-1.diamond.papers.tech",
				"beacon-node-1.sky.papers.tech",
				"beacon-node-2.sky.papers.tech",
				"beacon-node-1.hope.papers.tech",
				"beacon-node-1.hope-2.papers.tech",
				"beacon-node-1.hope-3.papers.tech",
				"beacon-node-1.hope-4.papers.tech",
				"beacon-node-1.hope-5.papers.tech",
			},
			RegionNorthAmericaEast: {
				"beacon-node-1.beacon-server-1.papers.tech",
				"beacon-node-1.beacon-server-2.papers.tech",
				"beacon-node-1.beacon-server-3.papers.tech",
				"beacon-node-1.beacon-server-4.papers.tech",
			},
		},
		Aliases: map[string][]string{},
	}
}

// Clone returns a deep copy of the directory.
func (d Directory) Clone() Directory {
	clone := Directory{
		Regions: make(map[Region][]string, len(d.Regions)),
		Aliases: make(map[string][]string, len(d.Aliases)),
	}
	for region, nodes := range d.Regions {
		clone.Regions[region] = slices.Clone(nodes)
	}
	for node, aliases := range d.Aliases {
		clone.Aliases[node] = slices.Clone(aliases)
	}
	return clone
}

// Merge returns a new directory with overrides applied. A region
// present in overrides replaces that region's node list; aliases are
// replaced per node. Neither input is modified.
func (d Directory) Merge(overrides Directory) Directory {
	merged := d.Clone()
	for region, nodes := range overrides.Regions {
		merged.Regions[region] = slices.Clone(nodes)
	}
	for node, aliases := range overrides.Aliases {
		merged.Aliases[node] = slices.Clone(aliases)
	}
	return merged
}

// RegionNames returns the regions that have at least one node, sorted.
func (d Directory) RegionNames() []Region {
	names := make([]Region, 0, len(d.Regions))
	for region, nodes := range d.Regions {
		if len(nodes) > 0 {
			names = append(names, region)
		}
	}
	slices.Sort(names)
	return names
}

// RegionOf returns the region containing node.
func (d Directory) RegionOf(node string) (Region, bool) {
	for region, nodes := range d.Regions {
		if slices.Contains(nodes, node) {
			return region, true
		}
	}
	return "", false
}

// Candidates returns node followed by its aliases: the host names to
// try, in order, when contacting node.
func (d Directory) Candidates(node string) []string {
	return append([]string{node}, d.Aliases[node]...)
}

// LoadDirectoryFile reads a JSONC directory override file:
//
//	{
//	  // Replace the europe-west nodes.
//	  "regions": { "europe-west": ["relay.example.org"] },
//	  "aliases": { "relay.example.org": ["relay-b.example.org"] },
//	}
func LoadDirectoryFile(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Directory{}, fmt.Errorf("relay: reading directory file: %w", err)
	}
	var directory Directory
	if err := json.Unmarshal(jsonc.ToJSON(data), &directory); err != nil {
		return Directory{}, fmt.Errorf("relay: parsing directory file %s: %w", path, err)
	}
	for region, nodes := range directory.Regions {
		if region == "" {
			return Directory{}, fmt.Errorf("relay: directory file %s: empty region name", path)
		}
		for _, node := range nodes {
			if node == "" {
				return Directory{}, fmt.Errorf("relay: directory file %s: empty node in region %s", path, region)
			}
		}
	}
	return directory, nil
}
