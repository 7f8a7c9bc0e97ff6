package fetch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMap is the versioned schema mapping supplied at the fetcher
// boundary. The upstream source renames its payload fields without notice;
// instead of guessing by keyword, operators pin the mapping in a config
// file and bump the version when the source changes shape.
type FieldMap struct {
	Version int    `yaml:"version"`
	Rank    string `yaml:"rank"`
	Name    string `yaml:"name"`
	Country string `yaml:"country"`
	Points  string `yaml:"points"`
}

// DefaultFieldMap matches the source's current payload shape.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		Version: 1,
		Rank:    "rank",
		Name:    "name",
		Country: "country",
		Points:  "points",
	}
}

// LoadFieldMap reads a field map from a YAML file. A missing file falls
// back to the default mapping; a malformed one is an error.
func LoadFieldMap(path string) (FieldMap, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultFieldMap(), nil
	}
	if err != nil {
		return FieldMap{}, fmt.Errorf("read field map %s: %w", path, err)
	}

	var fm FieldMap
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return FieldMap{}, fmt.Errorf("parse field map %s: %w", path, err)
	}
	if err := fm.Validate(); err != nil {
		return FieldMap{}, fmt.Errorf("field map %s: %w", path, err)
	}
	return fm, nil
}

// Validate checks that all required fields are mapped.
func (fm FieldMap) Validate() error {
	if fm.Version < 1 {
		return fmt.Errorf("version must be >= 1, got %d", fm.Version)
	}
	for name, v := range map[string]string{
		"rank": fm.Rank, "name": fm.Name, "country": fm.Country, "points": fm.Points,
	} {
		if v == "" {
			return fmt.Errorf("missing mapping for %q", name)
		}
	}
	return nil
}
