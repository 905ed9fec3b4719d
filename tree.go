package grove

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Node flag bits, packed one byte per node.
const (
	flagNamed   uint8 = 1 << 0
	flagMissing uint8 = 1 << 1
	flagExtra   uint8 = 1 << 2
	flagError   uint8 = 1 << 3
	flagField   uint8 = 1 << 4
)

// Tree is the compact, immutable encoding of one parsed file: a flat node
// table in pre-order, with per-node interned kind ids, byte ranges, flags,
// optional field ids, parent links, and precomputed subtree sizes.
//
// Pre-order plus subtree sizes makes navigation index arithmetic: the first
// child of position p is p+1, and the subtree of p occupies exactly
// [p, p+subtree[p]). No pointers, no per-node allocations; a Tree is shared
// freely across goroutines once built.
type Tree struct {
	pool   *InternPool
	source []byte

	kinds   []uint32
	flags   []uint8
	fields  []uint32 // interned field ids, 0 = none
	starts  []uint32
	ends    []uint32
	parents []int32 // -1 for the root
	subtree []uint32

	// Per-kind position bitmaps, built lazily on the first kind-routed
	// query. The tree is immutable, so one build serves all readers.
	kindOnce sync.Once
	kindIdx  map[uint32]*roaring.Bitmap
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.kinds) }

// Source returns the source bytes the tree was encoded against. Callers
// must not mutate the returned slice.
func (t *Tree) Source() []byte { return t.source }

// Pool returns the intern pool kind and field ids resolve through.
func (t *Tree) Pool() *InternPool { return t.pool }

// Root returns the root node view. Valid only for non-empty trees; Encode
// never produces an empty one.
func (t *Tree) Root() NodeView { return NodeView{t: t, pos: 0} }

// NodeAt returns the node at a pre-order position.
func (t *Tree) NodeAt(pos uint32) (NodeView, bool) {
	if int(pos) >= len(t.kinds) {
		return NodeView{}, false
	}
	return NodeView{t: t, pos: pos}, true
}

// MemoryBytes estimates the resident size of the tree plus its source,
// used for tier capacity accounting.
func (t *Tree) MemoryBytes() int64 {
	const bytesPerNode = 4 + 1 + 4 + 4 + 4 + 4 + 4
	return int64(len(t.source)) + int64(len(t.kinds))*bytesPerNode
}

// kindBitmap returns the positions holding kind id k, building the per-kind
// index on first use.
func (t *Tree) kindBitmap(k uint32) *roaring.Bitmap {
	t.kindOnce.Do(func() {
		idx := make(map[uint32]*roaring.Bitmap)
		for pos, kind := range t.kinds {
			bm := idx[kind]
			if bm == nil {
				bm = roaring.New()
				idx[kind] = bm
			}
			bm.Add(uint32(pos))
		}
		t.kindIdx = idx
	})
	return t.kindIdx[k]
}

// NodeView is a cheap value handle onto one tree node. The zero NodeView is
// invalid; obtain views from a Tree.
type NodeView struct {
	t   *Tree
	pos uint32
}

// Pos returns the node's pre-order position.
func (n NodeView) Pos() uint32 { return n.pos }

// KindID returns the interned kind id.
func (n NodeView) KindID() SymbolID { return SymbolID(n.t.kinds[n.pos]) }

// Kind returns the kind name.
func (n NodeView) Kind() string {
	s, _ := n.t.pool.Resolve(SymbolID(n.t.kinds[n.pos]))
	return s
}

// StartByte returns the inclusive start of the node's source range.
func (n NodeView) StartByte() uint32 { return n.t.starts[n.pos] }

// EndByte returns the exclusive end of the node's source range.
func (n NodeView) EndByte() uint32 { return n.t.ends[n.pos] }

// IsNamed reports whether the node is a named grammar node.
func (n NodeView) IsNamed() bool { return n.t.flags[n.pos]&flagNamed != 0 }

// IsMissing reports whether the parser fabricated the node during recovery.
func (n NodeView) IsMissing() bool { return n.t.flags[n.pos]&flagMissing != 0 }

// IsExtra reports whether the node is an extra (comment-like) node.
func (n NodeView) IsExtra() bool { return n.t.flags[n.pos]&flagExtra != 0 }

// IsError reports whether the node is an error node.
func (n NodeView) IsError() bool { return n.t.flags[n.pos]&flagError != 0 }

// FieldID returns the interned field id binding this node in its parent,
// 0 when unbound.
func (n NodeView) FieldID() SymbolID { return SymbolID(n.t.fields[n.pos]) }

// FieldName returns the grammar field name binding this node in its parent,
// "" when unbound.
func (n NodeView) FieldName() string {
	if n.t.flags[n.pos]&flagField == 0 {
		return ""
	}
	s, _ := n.t.pool.Resolve(SymbolID(n.t.fields[n.pos]))
	return s
}

// SubtreeSize returns the number of nodes in the subtree rooted here,
// including the node itself. Precomputed at encode time.
func (n NodeView) SubtreeSize() uint32 { return n.t.subtree[n.pos] }

// Text returns the node's source bytes. Callers must not mutate it.
func (n NodeView) Text() []byte {
	return n.t.source[n.t.starts[n.pos]:n.t.ends[n.pos]]
}

// Parent returns the parent view; ok is false at the root.
func (n NodeView) Parent() (NodeView, bool) {
	p := n.t.parents[n.pos]
	if p < 0 {
		return NodeView{}, false
	}
	return NodeView{t: n.t, pos: uint32(p)}, true
}

// ChildCount counts direct children. O(children).
func (n NodeView) ChildCount() int {
	count := 0
	end := n.pos + n.t.subtree[n.pos]
	for q := n.pos + 1; q < end; q += n.t.subtree[q] {
		count++
	}
	return count
}

// Children returns the direct children in source order. O(children).
func (n NodeView) Children() []NodeView {
	var out []NodeView
	end := n.pos + n.t.subtree[n.pos]
	for q := n.pos + 1; q < end; q += n.t.subtree[q] {
		out = append(out, NodeView{t: n.t, pos: q})
	}
	return out
}

// NextSibling returns the following sibling; ok is false at the last child
// and at the root. O(1) from the parent's extent.
func (n NodeView) NextSibling() (NodeView, bool) {
	p := n.t.parents[n.pos]
	if p < 0 {
		return NodeView{}, false
	}
	q := n.pos + n.t.subtree[n.pos]
	if q >= uint32(p)+n.t.subtree[p] {
		return NodeView{}, false
	}
	return NodeView{t: n.t, pos: q}, true
}

// PrevSibling returns the preceding sibling; ok is false at the first child
// and at the root. O(children of parent).
func (n NodeView) PrevSibling() (NodeView, bool) {
	p := n.t.parents[n.pos]
	if p < 0 {
		return NodeView{}, false
	}
	prev := int64(-1)
	end := uint32(p) + n.t.subtree[p]
	for q := uint32(p) + 1; q < end; q += n.t.subtree[q] {
		if q == n.pos {
			break
		}
		prev = int64(q)
	}
	if prev < 0 {
		return NodeView{}, false
	}
	return NodeView{t: n.t, pos: uint32(prev)}, true
}
