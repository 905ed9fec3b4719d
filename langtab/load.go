package langtab

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// tableFile is the YAML shape of a language table:
//
//	language: zig
//	name_fields: [name]
//	definitions: [function_declaration, struct_declaration]
//	references: [call_expression]
//	occurrences: [identifier]
type tableFile struct {
	Language    string   `yaml:"language"`
	NameFields  []string `yaml:"name_fields"`
	Definitions []string `yaml:"definitions"`
	References  []string `yaml:"references"`
	Occurrences []string `yaml:"occurrences"`
}

// Load reads one language table from YAML.
func Load(r io.Reader) (*Table, error) {
	var f tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode language table: %w", err)
	}
	if f.Language == "" {
		return nil, fmt.Errorf("language table missing language name")
	}
	roles := make(map[string]Role)
	add := func(kinds []string, role Role) error {
		for _, k := range kinds {
			if prev, dup := roles[k]; dup && prev != role {
				return fmt.Errorf("kind %q mapped to both %s and %s", k, prev, role)
			}
			roles[k] = role
		}
		return nil
	}
	if err := add(f.Occurrences, RoleOccurrence); err != nil {
		return nil, err
	}
	if err := add(f.Definitions, RoleDefinition); err != nil {
		return nil, err
	}
	if err := add(f.References, RoleReference); err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("language table for %s maps no kinds", f.Language)
	}
	return New(f.Language, roles, f.NameFields), nil
}

// LoadFile reads one language table from a YAML file on disk.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open language table: %w", err)
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
