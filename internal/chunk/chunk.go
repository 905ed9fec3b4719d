// Package chunk provides the content-defined chunking layer behind the
// Warm and Cold cache tiers: a refcounted content-addressed chunk store,
// delta entries that reconstruct a byte string from shared chunks, and the
// LZ4/zstd codecs the tiers fall back to.
package chunk

import (
	"crypto/sha256"
	"math/rand/v2"
	"sync"
)

// Chunking bounds. Source files are mostly small; a 2 KiB target keeps
// per-entry chunk counts low while still sharing unchanged regions across
// versions of the same file.
const (
	minChunkSize = 512
	maxChunkSize = 8192

	// chunkMask yields an expected chunk size of 2 KiB: a boundary fires
	// when the low 11 bits of the rolling hash clear.
	chunkMask = 1<<11 - 1
)

// gearTable drives the rolling hash. Seeded once from fixed constants so
// chunk boundaries are stable across processes and restarts.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	r := rand.New(rand.NewPCG(0x67726f7665, 0x6368756e6b))
	for i := range t {
		t[i] = r.Uint64()
	}
	return t
}()

// split cuts data into content-defined chunks. Boundaries depend only on
// content, so an edit shifts at most the chunks it touches.
func split(data []byte) [][]byte {
	var out [][]byte
	start := 0
	var hash uint64
	for i := 0; i < len(data); i++ {
		hash = hash<<1 + gearTable[data[i]]
		size := i - start + 1
		if size < minChunkSize {
			continue
		}
		if hash&chunkMask == 0 || size >= maxChunkSize {
			out = append(out, data[start:i+1])
			start = i + 1
			hash = 0
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

// ID is the content address of one chunk.
type ID [sha256.Size]byte

type chunkRec struct {
	data []byte
	refs int
}

// Store is a content-addressed chunk store with reference counting. It
// grows monotonically; Prune reclaims chunks no DeltaEntry references.
// Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	chunks map[ID]*chunkRec
	bytes  int64
}

// NewStore returns an empty chunk store.
func NewStore() *Store {
	return &Store{chunks: make(map[ID]*chunkRec)}
}

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Bytes returns the total bytes of stored chunk data.
func (s *Store) Bytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Prune removes every chunk with no references and returns the bytes freed.
// Called from the tier sweep, never from the lookup path.
func (s *Store) Prune() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var freed int64
	for id, rec := range s.chunks {
		if rec.refs <= 0 {
			freed += int64(len(rec.data))
			s.bytes -= int64(len(rec.data))
			delete(s.chunks, id)
		}
	}
	return freed
}

// insert adds data under its hash if absent and reports how many of the
// bytes were already present. Caller holds the write lock.
func (s *Store) insertLocked(id ID, data []byte) (known bool) {
	if _, ok := s.chunks[id]; ok {
		return true
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	s.chunks[id] = &chunkRec{data: owned}
	s.bytes += int64(len(owned))
	return false
}
