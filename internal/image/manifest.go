package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ManifestEntry is the on-disk form of a host entry. Host addresses are
// process-local, so manifests only say whether an entry is a marker.
type ManifestEntry struct {
	Name   string `yaml:"name" json:"name"`
	Size   uint64 `yaml:"size,omitempty" json:"size,omitempty"`
	Flags  int32  `yaml:"flags,omitempty" json:"flags,omitempty"`
	Marker bool   `yaml:"marker,omitempty" json:"marker,omitempty"`
}

type Manifest struct {
	Entries []ManifestEntry `yaml:"entries" json:"entries"`
}

// LoadManifest reads a YAML or JSON entry manifest; the format follows the
// file extension.
func LoadManifest(path string) ([]HostEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseManifest(data, format)
}

func ParseManifest(data []byte, format string) ([]HostEntry, error) {
	var m Manifest
	switch format {
	case "json":
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse json manifest: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("parse yaml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown manifest format %q", format)
	}

	out := make([]HostEntry, 0, len(m.Entries))
	next := hostAddrBase
	for i, e := range m.Entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("manifest entry %d: name is required", i)
		}
		he := HostEntry{Name: e.Name, Size: e.Size, Flags: e.Flags}
		if !e.Marker {
			he.Addr = next
			next += 0x10
		}
		out = append(out, he)
	}
	return out, nil
}
