package grove

import "sync"

// SymbolID is an interned string handle. The zero value means "absent";
// valid ids start at 1.
type SymbolID uint32

const (
	// maxInternLength is the longest string the pool will intern. Longer
	// strings are bypassed: node kinds and field names never get close,
	// and pathological identifiers are not worth a permanent slot.
	maxInternLength = 128

	// defaultInternBudget caps the total bytes of interned string data.
	// Entries live for the process lifetime, so the pool refuses new
	// strings past the budget instead of evicting.
	defaultInternBudget = 100 << 20
)

// InternPool interns kind names, field names, and symbol names into dense
// uint32 ids shared by every tree encoded against it. It is an explicit
// injectable service rather than a package singleton so tests and embedders
// can scope it; one pool per cache is the usual arrangement.
//
// The pool grows for its whole lifetime and is safe for concurrent use.
type InternPool struct {
	mu     sync.RWMutex
	ids    map[string]SymbolID
	strs   []string
	bytes  int64
	budget int64
}

// NewInternPool returns an empty pool with the default byte budget.
func NewInternPool() *InternPool {
	return &InternPool{
		ids:    make(map[string]SymbolID),
		budget: defaultInternBudget,
	}
}

// Intern returns the id for s, adding it if needed. The second result is
// false when s was bypassed (over-long or budget exhausted); the returned
// id is 0 in that case.
func (p *InternPool) Intern(s string) (SymbolID, bool) {
	if len(s) > maxInternLength {
		return 0, false
	}
	p.mu.RLock()
	id, ok := p.ids[s]
	p.mu.RUnlock()
	if ok {
		return id, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.ids[s]; ok {
		return id, true
	}
	if p.bytes+int64(len(s)) > p.budget {
		return 0, false
	}
	p.strs = append(p.strs, s)
	id = SymbolID(len(p.strs))
	p.ids[s] = id
	p.bytes += int64(len(s))
	return id, true
}

// ID returns the id for s without interning it. ok is false when s has
// never been interned.
func (p *InternPool) ID(s string) (SymbolID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.ids[s]
	return id, ok
}

// Resolve returns the string for id. ok is false for 0 and out-of-range ids.
func (p *InternPool) Resolve(id SymbolID) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id == 0 || int(id) > len(p.strs) {
		return "", false
	}
	return p.strs[id-1], true
}

// Len returns the number of interned strings.
func (p *InternPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.strs)
}

// Bytes returns the total bytes of interned string data.
func (p *InternPool) Bytes() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bytes
}
