package grove

// fakeNode implements RawNode for fixtures built by hand. The field name of
// each node is stored on the node itself; FieldNameForChild reads it off
// the child.
type fakeNode struct {
	kind     string
	start    uint32
	end      uint32
	named    bool
	missing  bool
	extra    bool
	isError  bool
	field    string
	children []*fakeNode
}

func (n *fakeNode) Kind() string      { return n.kind }
func (n *fakeNode) StartByte() uint32 { return n.start }
func (n *fakeNode) EndByte() uint32   { return n.end }
func (n *fakeNode) IsNamed() bool     { return n.named }
func (n *fakeNode) IsMissing() bool   { return n.missing }
func (n *fakeNode) IsExtra() bool     { return n.extra }
func (n *fakeNode) IsError() bool     { return n.isError }
func (n *fakeNode) ChildCount() int   { return len(n.children) }

func (n *fakeNode) Child(i int) RawNode {
	if c := n.children[i]; c != nil {
		return c
	}
	return nil
}

func (n *fakeNode) FieldNameForChild(i int) string {
	if c := n.children[i]; c != nil {
		return c.field
	}
	return ""
}

type fakeTree struct {
	root *fakeNode
}

func (t fakeTree) Root() RawNode {
	if t.root == nil {
		return nil
	}
	return t.root
}

func named(kind string, start, end uint32, kids ...*fakeNode) *fakeNode {
	return &fakeNode{kind: kind, start: start, end: end, named: true, children: kids}
}

func anon(kind string, start, end uint32) *fakeNode {
	return &fakeNode{kind: kind, start: start, end: end}
}

func withField(field string, n *fakeNode) *fakeNode {
	n.field = field
	return n
}

// rustFixture returns the 18-byte source "fn foo(){ bar(); }" and a raw
// tree shaped like tree-sitter-rust's parse of it: a function_item defining
// foo whose body calls bar. Encoded pre-order positions:
//
//	0 source_file          8 {
//	1 function_item        9 expression_statement
//	2 fn                  10 call_expression
//	3 identifier foo      11 identifier bar
//	4 parameters          12 arguments
//	5 (                   13 (
//	6 )                   14 )
//	7 block               15 ;
//	                      16 }
func rustFixture() ([]byte, RawTree) {
	src := []byte("fn foo(){ bar(); }")
	root := named("source_file", 0, 18,
		named("function_item", 0, 18,
			anon("fn", 0, 2),
			withField("name", named("identifier", 3, 6)),
			withField("parameters", named("parameters", 6, 8,
				anon("(", 6, 7),
				anon(")", 7, 8),
			)),
			withField("body", named("block", 8, 18,
				anon("{", 8, 9),
				named("expression_statement", 10, 16,
					named("call_expression", 10, 15,
						withField("function", named("identifier", 10, 13)),
						withField("arguments", named("arguments", 13, 15,
							anon("(", 13, 14),
							anon(")", 14, 15),
						)),
					),
					anon(";", 15, 16),
				),
				anon("}", 17, 18),
			)),
		),
	)
	return src, fakeTree{root: root}
}

// encodeRustFixture is the shared shortcut for tests that just need the
// compact form.
func encodeRustFixture(pool *InternPool) (*Tree, []byte, error) {
	src, raw := rustFixture()
	t, err := Encode(raw, src, pool)
	return t, src, err
}
