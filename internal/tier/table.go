package tier

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/aproctor/grove/internal/chunk"
	"github.com/aproctor/grove/internal/segment"
)

// payload is implemented by each tier's stored form.
type payload interface {
	memBytes() int64
}

type hotPayload[T any] struct {
	tree T
	src  *SourceRef
	mem  int64
}

func (p *hotPayload[T]) memBytes() int64 { return p.mem }

// warmPayload keeps the LZ4 copy even when a delta exists, so a missing
// chunk degrades to decompression instead of a miss.
type warmPayload struct {
	delta    *chunk.DeltaEntry
	lz4      []byte
	treeZstd []byte
	srcLen   int
}

func (p *warmPayload) memBytes() int64 { return int64(len(p.lz4) + len(p.treeZstd)) }

type coldPayload struct {
	srcZstd  []byte
	treeZstd []byte
	srcLen   int
}

func (p *coldPayload) memBytes() int64 { return int64(len(p.srcZstd) + len(p.treeZstd)) }

// frozenPayload accounts disk bytes, not memory.
type frozenPayload struct {
	handle *segment.Handle
}

func (p *frozenPayload) memBytes() int64 { return p.handle.StoredBytes }

// tierTable is one tier's payload map. Bounded tiers additionally keep an
// LRU list so capacity pressure evicts the least recently used path first.
type tierTable[P payload] struct {
	mu    sync.RWMutex
	m     map[string]P
	lru   *list.List
	elems map[string]*list.Element
	bytes atomic.Int64
}

func newTierTable[P payload](withLRU bool) *tierTable[P] {
	t := &tierTable[P]{m: make(map[string]P)}
	if withLRU {
		t.lru = list.New()
		t.elems = make(map[string]*list.Element)
	}
	return t
}

func (t *tierTable[P]) get(path string) (P, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.m[path]
	return p, ok
}

// put stores a payload, replacing any previous one for the path.
func (t *tierTable[P]) put(path string, p P) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.m[path]; ok {
		t.bytes.Add(-old.memBytes())
		if t.lru != nil {
			t.lru.Remove(t.elems[path])
			delete(t.elems, path)
		}
	}
	t.m[path] = p
	t.bytes.Add(p.memBytes())
	if t.lru != nil {
		t.elems[path] = t.lru.PushFront(path)
	}
}

func (t *tierTable[P]) remove(path string) (P, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[path]
	if !ok {
		var zero P
		return zero, false
	}
	delete(t.m, path)
	t.bytes.Add(-p.memBytes())
	if t.lru != nil {
		t.lru.Remove(t.elems[path])
		delete(t.elems, path)
	}
	return p, true
}

// touch marks path most recently used.
func (t *tierTable[P]) touch(path string) {
	if t.lru == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if el, ok := t.elems[path]; ok {
		t.lru.MoveToFront(el)
	}
}

// oldest returns the least recently used path.
func (t *tierTable[P]) oldest() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lru == nil || t.lru.Len() == 0 {
		return "", false
	}
	return t.lru.Back().Value.(string), true
}

func (t *tierTable[P]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

func (t *tierTable[P]) memTotal() int64 { return t.bytes.Load() }
