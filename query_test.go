package grove

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolp(v bool) *bool { return &v }

func matchedNodes(matches []Match) []uint32 {
	out := make([]uint32, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Node)
	}
	return out
}

func TestEngine_EvaluateKindPattern(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{Kind: "identifier"})
	require.NoError(t, err)

	matches := e.Evaluate(tree, cp)
	assert.Equal(t, []uint32{3, 11}, matchedNodes(matches))
	for _, m := range matches {
		assert.Equal(t, cp.Index(), m.Pattern)
	}
}

func TestEngine_EvaluateChildSequenceWithCaptures(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{
		Kind: "call_expression",
		Children: []Pattern{
			{Kind: "identifier", Capture: "callee"},
		},
	})
	require.NoError(t, err)

	matches := e.Evaluate(tree, cp)
	require.Len(t, matches, 1)
	assert.EqualValues(t, 10, matches[0].Node)
	require.Len(t, matches[0].Captures, 1)
	assert.Equal(t, "callee", matches[0].Captures[0].Name)
	assert.EqualValues(t, 11, matches[0].Captures[0].Pos)
}

func TestEngine_ChildSequenceAllowsTrailingExtras(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	// function_item has four children (fn, identifier, parameters, block);
	// constraining only the first two must still match.
	cp, err := e.Register(Pattern{
		Kind: "function_item",
		Children: []Pattern{
			{Kind: "fn"},
			{Kind: "identifier", Capture: "name"},
		},
	})
	require.NoError(t, err)

	matches := e.Evaluate(tree, cp)
	require.Len(t, matches, 1)
	assert.EqualValues(t, 1, matches[0].Node)
	require.Len(t, matches[0].Captures, 1)
	assert.EqualValues(t, 3, matches[0].Captures[0].Pos)
}

func TestEngine_ChildSequenceLongerThanChildrenFails(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{
		Kind: "arguments",
		Children: []Pattern{
			{Kind: "("}, {Kind: ")"}, {Kind: ")"},
		},
	})
	require.NoError(t, err)

	assert.Empty(t, e.Evaluate(tree, cp))
}

func TestEngine_FieldConstraint(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{Kind: "identifier", Field: "name"})
	require.NoError(t, err)

	assert.Equal(t, []uint32{3}, matchedNodes(e.Evaluate(tree, cp)))
}

func TestEngine_NamedConstraint(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	anonOnly, err := e.Register(Pattern{Kind: "fn", IsNamed: boolp(false)})
	require.NoError(t, err)
	namedFn, err := e.Register(Pattern{Kind: "fn", IsNamed: boolp(true)})
	require.NoError(t, err)

	assert.Equal(t, []uint32{2}, matchedNodes(e.Evaluate(tree, anonOnly)))
	assert.Empty(t, e.Evaluate(tree, namedFn))
}

func TestEngine_ErrorConstraint(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	src := []byte("fn {")
	root := named("source_file", 0, 4,
		&fakeNode{kind: "ERROR", start: 0, end: 4, named: true, isError: true},
	)
	tree, err := Encode(fakeTree{root: root}, src, pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{IsError: boolp(true)})
	require.NoError(t, err)

	assert.Equal(t, []uint32{1}, matchedNodes(e.Evaluate(tree, cp)))
}

func TestEngine_UnknownKindMatchesNothing(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)

	e := NewEngine(pool)
	cp, err := e.Register(Pattern{Kind: "never_interned_kind"})
	require.NoError(t, err)
	assert.Empty(t, e.Evaluate(tree, cp))

	byField, err := e.Register(Pattern{Field: "never_interned_field"})
	require.NoError(t, err)
	assert.Empty(t, e.Evaluate(tree, byField))
}

func TestEngine_RegisterAssignsSequentialIndices(t *testing.T) {
	t.Parallel()
	e := NewEngine(NewInternPool())

	first, err := e.Register(Pattern{Kind: "a"})
	require.NoError(t, err)
	second, err := e.Register(Pattern{Kind: "b"})
	require.NoError(t, err)

	assert.Equal(t, 0, first.Index())
	assert.Equal(t, 1, second.Index())

	got, ok := e.Pattern(1)
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = e.Pattern(2)
	assert.False(t, ok)
}

func TestEngine_RejectsOverDeepPattern(t *testing.T) {
	t.Parallel()
	p := Pattern{Kind: "leaf"}
	for i := 0; i < maxPatternDepth+1; i++ {
		p = Pattern{Children: []Pattern{p}}
	}
	_, err := NewEngine(NewInternPool()).Register(p)
	require.Error(t, err)
}

func TestFindByKind(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	assert.Equal(t, []uint32{3, 11}, FindByKind(tree, "identifier"))
	assert.Equal(t, []uint32{1}, FindByKind(tree, "function_item"))
	assert.Nil(t, FindByKind(tree, "no_such_kind"))
}

// bruteForceRange is the reference implementation FindInRange must agree
// with: scan every node and keep the overlapping ones.
func bruteForceRange(tree *Tree, start, end uint32) []uint32 {
	var out []uint32
	for pos := 0; pos < tree.Len(); pos++ {
		n, _ := tree.NodeAt(uint32(pos))
		if n.StartByte() < end && n.EndByte() > start {
			out = append(out, uint32(pos))
		}
	}
	return out
}

func TestFindInRange_MatchesBruteForce(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	ranges := [][2]uint32{
		{0, 18},  // whole file
		{10, 16}, // the bar(); statement
		{3, 6},   // the foo identifier
		{8, 9},   // a single brace
		{17, 18}, // closing brace only
		{20, 26}, // past end of source
		{6, 6},   // empty range
	}
	for _, r := range ranges {
		got := FindInRange(tree, r[0], r[1])
		want := bruteForceRange(tree, r[0], r[1])
		if r[0] >= r[1] {
			want = nil
		}
		assert.Equal(t, want, got, "range [%d,%d)", r[0], r[1])
	}
}

func TestFindInRange_CallStatement(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	// [10,16) covers "bar();": the statement, the call, its identifier and
	// arguments, plus the enclosing block and ancestors that span it.
	got := FindInRange(tree, 10, 16)
	assert.Equal(t, []uint32{0, 1, 7, 9, 10, 11, 12, 13, 14, 15}, got)
}

func TestParentChain(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	// identifier bar → call_expression → expression_statement → block →
	// function_item → source_file.
	assert.Equal(t, []uint32{10, 9, 7, 1, 0}, ParentChain(tree, 11))
	assert.Nil(t, ParentChain(tree, 0))
	assert.Nil(t, ParentChain(tree, uint32(tree.Len())))
}

func TestSiblings(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	// identifier foo sits between fn and parameters inside function_item.
	assert.Equal(t, []uint32{2, 4, 7}, Siblings(tree, 3))
	assert.Nil(t, Siblings(tree, 0))
}

func TestSubtreeSize(t *testing.T) {
	t.Parallel()
	tree, _, err := encodeRustFixture(NewInternPool())
	require.NoError(t, err)

	whole, err := SubtreeSize(tree, 0)
	require.NoError(t, err)
	assert.EqualValues(t, tree.Len(), whole)

	leaf, err := SubtreeSize(tree, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, leaf)

	call, err := SubtreeSize(tree, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 5, call)

	_, err = SubtreeSize(tree, uint32(tree.Len()))
	require.Error(t, err)
}

func TestEngine_EvaluateNilAndEmpty(t *testing.T) {
	t.Parallel()
	pool := NewInternPool()
	e := NewEngine(pool)
	cp, err := e.Register(Pattern{Kind: "identifier"})
	require.NoError(t, err)

	assert.Empty(t, e.Evaluate(nil, cp))

	tree, _, err := encodeRustFixture(pool)
	require.NoError(t, err)
	assert.Empty(t, e.Evaluate(tree, nil))
}
