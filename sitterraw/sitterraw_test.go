package sitterraw

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aproctor/grove"
)

func TestParser_GoSource(t *testing.T) {
	t.Parallel()

	parse, ok := Parser("go")
	require.True(t, ok)

	src := []byte("package main\n\nfunc main() {\n\tprintln(1)\n}\n")
	raw, err := parse(context.Background(), src)
	require.NoError(t, err)

	root := raw.Root()
	assert.Equal(t, "source_file", root.Kind())
	assert.True(t, root.IsNamed())
	assert.EqualValues(t, 0, root.StartByte())
	assert.EqualValues(t, len(src), root.EndByte())
	require.Greater(t, root.ChildCount(), 0)
}

func TestParser_FieldNames(t *testing.T) {
	t.Parallel()

	parse, ok := Parser("go")
	require.True(t, ok)

	src := []byte("package main\n\nfunc main() {}\n")
	raw, err := parse(context.Background(), src)
	require.NoError(t, err)

	root := raw.Root()
	var fn grove.RawNode
	for i := 0; i < root.ChildCount(); i++ {
		if c := root.Child(i); c.Kind() == "function_declaration" {
			fn = c
			break
		}
	}
	require.NotNil(t, fn, "no function_declaration under root")

	var name grove.RawNode
	for i := 0; i < fn.ChildCount(); i++ {
		if fn.FieldNameForChild(i) == "name" {
			name = fn.Child(i)
			break
		}
	}
	require.NotNil(t, name, "function_declaration has no name field")
	assert.Equal(t, "identifier", name.Kind())
	assert.Equal(t, "main", string(src[name.StartByte():name.EndByte()]))
}

func TestParser_UnknownLanguage(t *testing.T) {
	t.Parallel()

	_, ok := Parser("cobol")
	assert.False(t, ok)
}

func TestParserForFile_ByExtension(t *testing.T) {
	t.Parallel()

	_, ok := ParserForFile("pkg/main.go")
	assert.True(t, ok)
	_, ok = ParserForFile("lib/mod.rs")
	assert.True(t, ok)
	_, ok = ParserForFile("README.md")
	assert.False(t, ok)
}

func TestWrap_EncodesThroughGrove(t *testing.T) {
	t.Parallel()

	parse, ok := Parser("rust")
	require.True(t, ok)

	src := []byte("fn foo(){ bar(); }")
	raw, err := parse(context.Background(), src)
	require.NoError(t, err)

	tree, err := grove.Encode(raw, src, grove.NewInternPool())
	require.NoError(t, err)

	assert.Equal(t, "source_file", tree.Root().Kind())
	assert.Greater(t, tree.Len(), 1)

	// The encoded ranges must still address the original source.
	fns := grove.FindByKind(tree, "function_item")
	require.Len(t, fns, 1)
	n, ok := tree.NodeAt(fns[0])
	require.True(t, ok)
	assert.Equal(t, byte('f'), n.Text()[0])
}
