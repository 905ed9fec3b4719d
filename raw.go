package grove

import "context"

// RawTree is the parse result handed to the cache by the external parser
// collaborator. The cache never parses source itself; it only walks raw
// trees to build compact ones.
type RawTree interface {
	// Root returns the tree's root node.
	Root() RawNode
}

// RawNode is one node of a RawTree. Implementations are typically thin
// wrappers over a parser's node handles (see the sitterraw package).
type RawNode interface {
	// Kind returns the grammar's node kind name, e.g. "function_item".
	Kind() string
	// StartByte and EndByte delimit the node's source range [start, end).
	StartByte() uint32
	EndByte() uint32
	// IsNamed reports whether the node is a named grammar node rather
	// than an anonymous token.
	IsNamed() bool
	// IsMissing reports whether the parser inserted the node to recover
	// from a syntax error.
	IsMissing() bool
	// IsExtra reports whether the node is an "extra" (comments and the
	// like, valid anywhere).
	IsExtra() bool
	// IsError reports whether the node is an error node.
	IsError() bool
	// ChildCount returns the number of direct children.
	ChildCount() int
	// Child returns the i-th direct child in source order.
	Child(i int) RawNode
	// FieldNameForChild returns the grammar field name of the i-th child,
	// or "" when the child is not bound to a field.
	FieldNameForChild(i int) string
}

// ParseFunc produces a RawTree from source bytes. It is supplied per call
// by the embedder; parse failures are returned to the caller unchanged.
// The context bounds the parse, which is the only potentially long
// operation on the lookup path.
type ParseFunc func(ctx context.Context, source []byte) (RawTree, error)
