package assetmanifest

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the ordered list of resources the application shell needs to render offline.
// Entries are absolute paths on the application origin, e.g. `/index.html`.
type Manifest []string

// DefaultManifest is used when no manifest is configured.
var DefaultManifest = Manifest{"/", "/index.html", "/manifest.json"}

type manifestFile struct {
	Assets Manifest `yaml:"assets"`
}

// Load reads a manifest file. Both a bare list and a mapping with an `assets` list
// are accepted, in YAML or JSON syntax.
func Load(filename string) (Manifest, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse parses manifest bytes and validates the entries.
func Parse(b []byte) (Manifest, error) {
	var list Manifest
	if err := yaml.Unmarshal(b, &list); err != nil {
		var file manifestFile
		if err := yaml.Unmarshal(b, &file); err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		list = file.Assets
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return list, nil
}

// Validate checks that every entry is an absolute path and that no entry repeats.
func (m Manifest) Validate() error {
	seen := make(map[string]bool, len(m))
	for i, entry := range m {
		if !strings.HasPrefix(entry, "/") {
			return fmt.Errorf("assets[%d]: %q is not an absolute path", i, entry)
		}
		if _, err := url.Parse(entry); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
		if seen[entry] {
			return fmt.Errorf("assets[%d]: duplicate entry %q", i, entry)
		}
		seen[entry] = true
	}
	return nil
}
