package grove

import (
	"errors"
	"fmt"
)

// ErrMalformedTree is wrapped by Encode when the raw tree violates its
// structural contract: a child range escaping its parent, siblings out of
// source order, or a walk that never terminates (a cycle). Such input is
// the parser's failure and is propagated, never repaired.
var ErrMalformedTree = errors.New("malformed raw tree")

// encodeFrame is one explicit-stack slot during the pre-order walk.
type encodeFrame struct {
	node      RawNode
	pos       uint32
	next      int
	prevStart uint32
}

// Encode converts a raw parser tree plus its source bytes into a compact
// Tree. Kind and field names are interned through pool; the walk is a
// single pass with an explicit stack, so arbitrarily deep inputs cannot
// overflow the goroutine stack.
func Encode(raw RawTree, source []byte, pool *InternPool) (*Tree, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrMalformedTree)
	}
	root := raw.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", ErrMalformedTree)
	}
	if root.EndByte() > uint32(len(source)) {
		return nil, fmt.Errorf("%w: root range [%d,%d) exceeds %d source bytes",
			ErrMalformedTree, root.StartByte(), root.EndByte(), len(source))
	}

	// A finite tree over len(source) bytes cannot reasonably exceed this
	// many nodes; blowing past it means the walk is revisiting nodes.
	maxNodes := 64*(len(source)+1) + 1024

	t := &Tree{pool: pool, source: source}

	emit := func(n RawNode, parent int32, fieldName string) (uint32, error) {
		kindID, ok := pool.Intern(n.Kind())
		if !ok {
			return 0, fmt.Errorf("intern kind %q: pool rejected string", n.Kind())
		}
		var flags uint8
		if n.IsNamed() {
			flags |= flagNamed
		}
		if n.IsMissing() {
			flags |= flagMissing
		}
		if n.IsExtra() {
			flags |= flagExtra
		}
		if n.IsError() {
			flags |= flagError
		}
		var fieldID SymbolID
		if fieldName != "" {
			id, ok := pool.Intern(fieldName)
			if !ok {
				return 0, fmt.Errorf("intern field %q: pool rejected string", fieldName)
			}
			fieldID = id
			flags |= flagField
		}
		pos := uint32(len(t.kinds))
		t.kinds = append(t.kinds, uint32(kindID))
		t.flags = append(t.flags, flags)
		t.fields = append(t.fields, uint32(fieldID))
		t.starts = append(t.starts, n.StartByte())
		t.ends = append(t.ends, n.EndByte())
		t.parents = append(t.parents, parent)
		t.subtree = append(t.subtree, 1)
		return pos, nil
	}

	rootPos, err := emit(root, -1, "")
	if err != nil {
		return nil, err
	}
	stack := []encodeFrame{{node: root, pos: rootPos}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= top.node.ChildCount() {
			t.subtree[top.pos] = uint32(len(t.kinds)) - top.pos
			stack = stack[:len(stack)-1]
			continue
		}
		i := top.next
		top.next++

		child := top.node.Child(i)
		if child == nil {
			return nil, fmt.Errorf("%w: nil child %d of %q", ErrMalformedTree, i, top.node.Kind())
		}
		if err := checkChildRange(top.node, child); err != nil {
			return nil, err
		}
		if i > 0 && child.StartByte() < top.prevStart {
			return nil, fmt.Errorf("%w: children of %q out of source order at %d",
				ErrMalformedTree, top.node.Kind(), child.StartByte())
		}
		top.prevStart = child.StartByte()
		if len(t.kinds) >= maxNodes {
			return nil, fmt.Errorf("%w: node count exceeds %d, walk is cyclic", ErrMalformedTree, maxNodes)
		}

		pos, err := emit(child, int32(top.pos), top.node.FieldNameForChild(i))
		if err != nil {
			return nil, err
		}
		stack = append(stack, encodeFrame{node: child, pos: pos})
	}

	return t, nil
}

// checkChildRange enforces the nesting invariant: a child's byte range
// stays inside its parent's and ranges are well formed.
func checkChildRange(parent, child RawNode) error {
	cs, ce := child.StartByte(), child.EndByte()
	if cs > ce {
		return fmt.Errorf("%w: %q has inverted range [%d,%d)", ErrMalformedTree, child.Kind(), cs, ce)
	}
	if cs < parent.StartByte() || ce > parent.EndByte() {
		return fmt.Errorf("%w: %q range [%d,%d) escapes parent %q [%d,%d)",
			ErrMalformedTree, child.Kind(), cs, ce,
			parent.Kind(), parent.StartByte(), parent.EndByte())
	}
	return nil
}
