package grove

import (
	"errors"
	"fmt"
	"sync"
)

// maxPatternDepth bounds pattern nesting so constraint checking, which
// recurses over the pattern (never the tree), has a fixed stack ceiling.
const maxPatternDepth = 64

// Pattern is the declarative spec of one structural query. Zero-valued
// constraints are unconstrained; Children, when present, are matched
// against the node's direct children positionally, extra trailing children
// permitted.
type Pattern struct {
	// Kind constrains the node's kind name. Empty matches any kind.
	Kind string
	// IsNamed, when non-nil, constrains the named flag.
	IsNamed *bool
	// IsError, when non-nil, constrains the error flag.
	IsError *bool
	// Field constrains the grammar field binding the node in its parent.
	Field string
	// Children are ordered sub-patterns for the node's direct children.
	Children []Pattern
	// Capture, when non-empty, records the matched node under this label.
	Capture string
}

// Capture is one captured node of a match.
type Capture struct {
	Name string
	Pos  uint32
}

// Match is one successful pattern evaluation: the registered pattern's
// index, the position of the node the pattern root matched, and all
// captures in pattern order.
type Match struct {
	Pattern  int
	Node     uint32
	Captures []Capture
}

// compiledNode mirrors Pattern with names resolved to intern ids.
type compiledNode struct {
	kindID  uint32 // 0 = unconstrained
	noMatch bool   // kind named but unknown to the pool
	named   int8   // -1 unconstrained, 0 false, 1 true
	isErr   int8
	fieldID uint32 // 0 = unconstrained
	fieldNo bool   // field named but unknown to the pool

	children []compiledNode
	capture  string
}

// CompiledPattern is a registered, intern-resolved pattern. Immutable and
// safe for concurrent evaluation.
type CompiledPattern struct {
	index int
	root  compiledNode
}

// Index returns the pattern's registration index within its Engine.
func (p *CompiledPattern) Index() int { return p.index }

// Engine compiles and evaluates structural patterns against compact trees.
// It is independent of tiering: any Tree works, resident or freshly built.
type Engine struct {
	pool *InternPool

	mu       sync.RWMutex
	patterns []*CompiledPattern
}

// NewEngine returns an Engine resolving names through pool. Trees evaluated
// against it must share the same pool.
func NewEngine(pool *InternPool) *Engine {
	return &Engine{pool: pool}
}

// Register compiles and registers a pattern, assigning the next index.
// A pattern whose kind or field name has never been interned compiles to
// one that matches nothing, since no encoded tree can contain that name.
func (e *Engine) Register(p Pattern) (*CompiledPattern, error) {
	root, err := e.compile(p, 0)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := &CompiledPattern{index: len(e.patterns), root: root}
	e.patterns = append(e.patterns, cp)
	return cp, nil
}

// Pattern returns the registered pattern at index i.
func (e *Engine) Pattern(i int) (*CompiledPattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if i < 0 || i >= len(e.patterns) {
		return nil, false
	}
	return e.patterns[i], true
}

func (e *Engine) compile(p Pattern, depth int) (compiledNode, error) {
	if depth >= maxPatternDepth {
		return compiledNode{}, fmt.Errorf("pattern nesting exceeds %d", maxPatternDepth)
	}
	cn := compiledNode{named: -1, isErr: -1, capture: p.Capture}
	if p.Kind != "" {
		if id, ok := e.pool.ID(p.Kind); ok {
			cn.kindID = uint32(id)
		} else {
			cn.noMatch = true
		}
	}
	if p.IsNamed != nil {
		cn.named = 0
		if *p.IsNamed {
			cn.named = 1
		}
	}
	if p.IsError != nil {
		cn.isErr = 0
		if *p.IsError {
			cn.isErr = 1
		}
	}
	if p.Field != "" {
		if id, ok := e.pool.ID(p.Field); ok {
			cn.fieldID = uint32(id)
		} else {
			cn.fieldNo = true
		}
	}
	for _, c := range p.Children {
		cc, err := e.compile(c, depth+1)
		if err != nil {
			return compiledNode{}, err
		}
		cn.children = append(cn.children, cc)
	}
	return cn, nil
}

// Evaluate returns every match of cp in t, in pre-order of the matched
// node. Kind-constrained patterns seed candidates from the tree's per-kind
// bitmap; otherwise every position is a candidate, the flat node table
// being its own pre-order walk.
func (e *Engine) Evaluate(t *Tree, cp *CompiledPattern) []Match {
	if t == nil || t.Len() == 0 || cp == nil || cp.root.noMatch || cp.root.fieldNo {
		return nil
	}
	var out []Match
	var caps []Capture

	try := func(pos uint32) {
		before := len(caps)
		if matchNode(t, pos, &cp.root, &caps) {
			m := Match{Pattern: cp.index, Node: pos}
			if len(caps) > before {
				m.Captures = append(m.Captures, caps[before:]...)
			}
			out = append(out, m)
		}
		caps = caps[:before]
	}

	if cp.root.kindID != 0 {
		bm := t.kindBitmap(cp.root.kindID)
		if bm == nil {
			return nil
		}
		it := bm.Iterator()
		for it.HasNext() {
			try(it.Next())
		}
		return out
	}
	for pos := 0; pos < t.Len(); pos++ {
		try(uint32(pos))
	}
	return out
}

// matchNode tests one node against one compiled pattern node. Recursion
// depth is bounded by the pattern's nesting, never the tree's.
func matchNode(t *Tree, pos uint32, pn *compiledNode, caps *[]Capture) bool {
	if pn.noMatch || pn.fieldNo {
		return false
	}
	if pn.kindID != 0 && t.kinds[pos] != pn.kindID {
		return false
	}
	flags := t.flags[pos]
	if pn.named >= 0 && (flags&flagNamed != 0) != (pn.named == 1) {
		return false
	}
	if pn.isErr >= 0 && (flags&flagError != 0) != (pn.isErr == 1) {
		return false
	}
	if pn.fieldID != 0 && t.fields[pos] != pn.fieldID {
		return false
	}
	if len(pn.children) > 0 {
		end := pos + t.subtree[pos]
		q := pos + 1
		for i := range pn.children {
			if q >= end {
				return false
			}
			if !matchNode(t, q, &pn.children[i], caps) {
				return false
			}
			q += t.subtree[q]
		}
	}
	if pn.capture != "" {
		*caps = append(*caps, Capture{Name: pn.capture, Pos: pos})
	}
	return true
}

// FindByKind returns the pre-order positions of every node of the given
// kind, via the tree's per-kind bitmap.
func FindByKind(t *Tree, kind string) []uint32 {
	id, ok := t.pool.ID(kind)
	if !ok {
		return nil
	}
	bm := t.kindBitmap(uint32(id))
	if bm == nil {
		return nil
	}
	return bm.ToArray()
}

// FindInRange returns the positions of every node whose byte range overlaps
// [start, end). Subtrees whose range misses the query range are pruned
// without visiting their nodes, which keeps range queries sub-linear on
// large files; child ranges nest inside parent ranges, so pruning is safe.
func FindInRange(t *Tree, start, end uint32) []uint32 {
	if t.Len() == 0 || start >= end {
		return nil
	}
	var out []uint32
	stack := make([]uint32, 0, 32)
	stack = append(stack, 0)
	for len(stack) > 0 {
		pos := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if t.starts[pos] >= end || t.ends[pos] <= start {
			continue
		}
		out = append(out, pos)
		// Push children in reverse so the stack pops them in source order.
		children := make([]uint32, 0, 8)
		limit := pos + t.subtree[pos]
		for q := pos + 1; q < limit; q += t.subtree[q] {
			children = append(children, q)
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// ParentChain returns the positions from the node's parent up to the root,
// nearest first.
func ParentChain(t *Tree, pos uint32) []uint32 {
	if int(pos) >= t.Len() {
		return nil
	}
	var out []uint32
	for p := t.parents[pos]; p >= 0; p = t.parents[p] {
		out = append(out, uint32(p))
	}
	return out
}

// Siblings returns the positions of the node's siblings, itself excluded,
// in source order. The root has none.
func Siblings(t *Tree, pos uint32) []uint32 {
	if int(pos) >= t.Len() {
		return nil
	}
	p := t.parents[pos]
	if p < 0 {
		return nil
	}
	var out []uint32
	end := uint32(p) + t.subtree[p]
	for q := uint32(p) + 1; q < end; q += t.subtree[q] {
		if q != pos {
			out = append(out, q)
		}
	}
	return out
}

// SubtreeSize returns the precomputed node count of the subtree at pos,
// the node itself included.
func SubtreeSize(t *Tree, pos uint32) (uint32, error) {
	if int(pos) >= t.Len() {
		return 0, errors.New("position out of range")
	}
	return t.subtree[pos], nil
}
