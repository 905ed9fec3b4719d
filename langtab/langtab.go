// Package langtab supplies per-language symbol classification tables: for
// each node kind a language's grammar produces, the role that kind plays in
// a symbol index (definition, reference, plain occurrence, or nothing).
//
// Tables are plain data. They ship as builtins for the common languages and
// can be loaded from YAML via [Load] so embedders can extend coverage
// without touching this package.
package langtab

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Role classifies what a node kind contributes to a symbol index.
type Role uint8

const (
	// RoleIgnore marks kinds that never enter the index.
	RoleIgnore Role = iota
	// RoleOccurrence marks identifier-like kinds indexed under their own text.
	RoleOccurrence
	// RoleDefinition marks declaration kinds (functions, types, classes).
	RoleDefinition
	// RoleReference marks use-site kinds (calls, invocations).
	RoleReference
)

// String returns the role name as used in YAML table files.
func (r Role) String() string {
	switch r {
	case RoleIgnore:
		return "ignore"
	case RoleOccurrence:
		return "occurrence"
	case RoleDefinition:
		return "definition"
	case RoleReference:
		return "reference"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole converts a YAML role name back to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "ignore":
		return RoleIgnore, nil
	case "occurrence":
		return RoleOccurrence, nil
	case "definition":
		return RoleDefinition, nil
	case "reference":
		return RoleReference, nil
	default:
		return RoleIgnore, fmt.Errorf("unknown role %q", s)
	}
}

// Table maps node kinds to roles for one language.
//
// A Table is immutable after construction and safe for concurrent use.
type Table struct {
	language   string
	roles      map[string]Role
	nameFields []string
}

// defaultNameFields are the grammar field names tried, in order, when
// extracting the symbol name from a definition or reference node.
var defaultNameFields = []string{"name", "function", "declarator"}

// New builds a Table for language from a kind→role map. Kinds absent from
// the map have RoleIgnore. nameFields may be nil to use the defaults.
func New(language string, roles map[string]Role, nameFields []string) *Table {
	m := make(map[string]Role, len(roles))
	for k, v := range roles {
		m[k] = v
	}
	nf := nameFields
	if len(nf) == 0 {
		nf = defaultNameFields
	}
	return &Table{language: language, roles: m, nameFields: nf}
}

// Language returns the canonical language name the table covers.
func (t *Table) Language() string { return t.language }

// Role returns the role of a node kind, RoleIgnore if unmapped.
func (t *Table) Role(kind string) Role { return t.roles[kind] }

// NameFields returns the field names tried when extracting a symbol name
// from a definition or reference node.
func (t *Table) NameFields() []string { return t.nameFields }

// Kinds returns the number of mapped kinds. Used by table sanity tests.
func (t *Table) Kinds() int { return len(t.roles) }

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".go":  "go",
	".rs":  "rust",
	".py":  "python",
	".js":  "javascript",
	".jsx": "javascript",
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// ForLanguage returns the builtin table for a canonical language name.
func ForLanguage(language string) (*Table, bool) {
	t, ok := builtins[language]
	return t, ok
}

// Languages lists the languages with builtin tables.
func Languages() []string {
	out := make([]string, 0, len(builtins))
	for name := range builtins {
		out = append(out, name)
	}
	return out
}
