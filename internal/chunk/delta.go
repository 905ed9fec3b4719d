package chunk

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	// ErrNoGain reports that delta encoding would not beat plain
	// compression for this input. The caller falls back to LZ4 or zstd;
	// the input's chunks stay seeded in the store so a later version of
	// the same file can delta against them.
	ErrNoGain = errors.New("delta encoding not beneficial")

	// ErrChunkMissing reports that a chunk referenced by a DeltaEntry is
	// gone from the store. The caller falls back to its retained
	// compressed blob.
	ErrChunkMissing = errors.New("chunk missing from store")
)

// deltaGainRatio is the minimum share of input bytes that must already be
// in the store for delta encoding to pay for itself.
const deltaGainRatio = 0.5

// DeltaEntry reconstructs one byte string as a sequence of store chunks.
// Entries hold references on their chunks from Encode until Release.
type DeltaEntry struct {
	ids   []ID
	total int
}

// Len returns the length of the encoded byte string.
func (e *DeltaEntry) Len() int { return e.total }

// Chunks returns the number of chunks the entry references.
func (e *DeltaEntry) Chunks() int { return len(e.ids) }

// Encode splits src into content-defined chunks and records the sequence
// needed to reconstruct it. New chunks are inserted unreferenced either
// way; when less than half of src's bytes were already present, Encode
// returns ErrNoGain and takes no references, leaving the seeded chunks for
// Prune or for the file's next version.
func (s *Store) Encode(src []byte) (*DeltaEntry, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrNoGain)
	}
	pieces := split(src)
	ids := make([]ID, len(pieces))
	for i, p := range pieces {
		ids[i] = ID(sha256.Sum256(p))
	}

	s.mu.Lock()
	var knownBytes int
	for i, p := range pieces {
		if s.insertLocked(ids[i], p) {
			knownBytes += len(p)
		}
	}
	if float64(knownBytes) < deltaGainRatio*float64(len(src)) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d of %d bytes shared", ErrNoGain, knownBytes, len(src))
	}
	for _, id := range ids {
		s.chunks[id].refs++
	}
	s.mu.Unlock()

	return &DeltaEntry{ids: ids, total: len(src)}, nil
}

// Decode reconstructs the byte string a DeltaEntry describes.
func (s *Store) Decode(e *DeltaEntry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entry", ErrChunkMissing)
	}
	out := make([]byte, 0, e.total)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range e.ids {
		rec, ok := s.chunks[id]
		if !ok {
			return nil, fmt.Errorf("%w: %x", ErrChunkMissing, id[:8])
		}
		out = append(out, rec.data...)
	}
	if len(out) != e.total {
		return nil, fmt.Errorf("%w: reconstructed %d bytes, want %d", ErrChunkMissing, len(out), e.total)
	}
	return out, nil
}

// Release drops the entry's references so Prune can reclaim its chunks
// once no other entry shares them.
func (s *Store) Release(e *DeltaEntry) {
	if e == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range e.ids {
		if rec, ok := s.chunks[id]; ok && rec.refs > 0 {
			rec.refs--
		}
	}
}
