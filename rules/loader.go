package rules

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk format of a rule set
type File struct {
	Rules []*Definition `yaml:"rules"`
}

// LoadFile reads and validates a YAML rule file
func LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file %s: %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return defs, nil
}

// Parse decodes a YAML rule set and validates every rule.
// Duplicate codes are rejected.
func Parse(data []byte) ([]*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, def := range f.Rules {
		if def == nil {
			return nil, fmt.Errorf("rule %d is empty", i)
		}
		if seen[def.Code] {
			return nil, fmt.Errorf("duplicate rule code %q", def.Code)
		}
		seen[def.Code] = true
		if err := Validate(def); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

// Seed loads every rule of a file into the catalog
func Seed(ctx context.Context, catalog *Catalog, path string) (int, error) {
	defs, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	for _, def := range defs {
		if err := catalog.Put(ctx, def); err != nil {
			return 0, fmt.Errorf("failed to store rule %s: %w", def.Code, err)
		}
	}
	return len(defs), nil
}
