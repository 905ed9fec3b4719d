package langtab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins_CoverTestedLanguages(t *testing.T) {
	for _, lang := range []string{"go", "rust", "python", "javascript"} {
		tab, ok := ForLanguage(lang)
		require.True(t, ok, "missing builtin table for %s", lang)
		assert.Equal(t, lang, tab.Language())
		assert.Greater(t, tab.Kinds(), 0)
	}
}

func TestRole_Classification(t *testing.T) {
	tab, ok := ForLanguage("rust")
	require.True(t, ok)

	assert.Equal(t, RoleDefinition, tab.Role("function_item"))
	assert.Equal(t, RoleReference, tab.Role("call_expression"))
	assert.Equal(t, RoleOccurrence, tab.Role("identifier"))
	assert.Equal(t, RoleIgnore, tab.Role("block"))
	assert.Equal(t, RoleIgnore, tab.Role("no_such_kind"))
}

func TestLanguageForFile(t *testing.T) {
	lang, ok := LanguageForFile("src/main.rs")
	require.True(t, ok)
	assert.Equal(t, "rust", lang)

	lang, ok = LanguageForFile("pkg/engine.GO")
	require.True(t, ok)
	assert.Equal(t, "go", lang)

	_, ok = LanguageForFile("README.md")
	assert.False(t, ok)
}

func TestParseRole_RoundTrip(t *testing.T) {
	for _, r := range []Role{RoleIgnore, RoleOccurrence, RoleDefinition, RoleReference} {
		got, err := ParseRole(r.String())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
	_, err := ParseRole("definitely_not_a_role")
	require.Error(t, err)
}

const zigTable = `
language: zig
name_fields: [name]
definitions: [function_declaration]
references: [call_expression]
occurrences: [identifier]
`

func TestLoad(t *testing.T) {
	tab, err := Load(strings.NewReader(zigTable))
	require.NoError(t, err)

	assert.Equal(t, "zig", tab.Language())
	assert.Equal(t, RoleDefinition, tab.Role("function_declaration"))
	assert.Equal(t, RoleReference, tab.Role("call_expression"))
	assert.Equal(t, RoleOccurrence, tab.Role("identifier"))
	assert.Equal(t, []string{"name"}, tab.NameFields())
}

func TestLoad_RejectsConflictsAndEmpties(t *testing.T) {
	_, err := Load(strings.NewReader(`
language: bad
definitions: [x]
references: [x]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mapped to both")

	_, err = Load(strings.NewReader("language: empty\n"))
	require.Error(t, err)

	_, err = Load(strings.NewReader("definitions: [a]\n"))
	require.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(zigTable), 0o644))

	tab, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "zig", tab.Language())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNew_DefaultNameFields(t *testing.T) {
	tab := New("x", map[string]Role{"identifier": RoleOccurrence}, nil)
	assert.Equal(t, []string{"name", "function", "declarator"}, tab.NameFields())
}
