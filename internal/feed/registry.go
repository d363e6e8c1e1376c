// Package feed knows how to locate and fetch the configured syndication
// sources.
package feed

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robingodinho/energy-intel/internal/intel"
)

//go:embed feeds.yaml
var defaultRegistry []byte

// Registry is the ordered list of configured feed descriptors.
type Registry struct {
	Feeds []intel.FeedDescriptor `yaml:"feeds"`
}

// LoadRegistry reads descriptors from path, or from the embedded default
// registry when path is empty.
func LoadRegistry(path string) (Registry, error) {
	raw := defaultRegistry
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Registry{}, fmt.Errorf("error reading feed registry: %w", err)
		}
		raw = b
	}

	var reg Registry
	if err := yaml.Unmarshal(raw, &reg); err != nil {
		return Registry{}, fmt.Errorf("error parsing feed registry: %w", err)
	}

	for i, d := range reg.Feeds {
		if d.Name == "" || d.Address == "" {
			return Registry{}, fmt.Errorf("feed registry entry %d is missing a name or address", i)
		}
		if d.ContentType != intel.ContentTypePolicy && d.ContentType != intel.ContentTypeFinance {
			return Registry{}, fmt.Errorf("feed %q has unknown content type %q", d.Name, d.ContentType)
		}
	}

	return reg, nil
}

// Enabled returns only the descriptors marked enabled, preserving order.
func (r Registry) Enabled() []intel.FeedDescriptor {
	var out []intel.FeedDescriptor
	for _, d := range r.Feeds {
		if d.Enabled {
			out = append(out, d)
		}
	}

	return out
}
