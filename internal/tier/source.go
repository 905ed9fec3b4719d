package tier

import "sync"

// SourceRef is a shared, refcounted source buffer. Hot entries for files
// with identical content hold the same ref, so duplicated vendored files
// cost one buffer.
type SourceRef struct {
	hash string
	data []byte
	refs int // guarded by the owning store's mutex
}

// Bytes returns the source. Callers must not mutate it.
func (r *SourceRef) Bytes() []byte { return r.data }

// sourceStore deduplicates hot-tier source buffers by content hash.
type sourceStore struct {
	mu    sync.Mutex
	m     map[string]*SourceRef
	bytes int64
}

func newSourceStore() *sourceStore {
	return &sourceStore{m: make(map[string]*SourceRef)}
}

// retain returns the shared ref for hash, storing a copy of data on first
// sight.
func (s *sourceStore) retain(hash string, data []byte) *SourceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.m[hash]; ok {
		r.refs++
		return r
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	r := &SourceRef{hash: hash, data: buf, refs: 1}
	s.m[hash] = r
	s.bytes += int64(len(buf))
	return r
}

// release drops one reference; the buffer is freed when the last holder
// releases.
func (s *sourceStore) release(r *SourceRef) {
	if r == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.refs--
	if r.refs <= 0 {
		if cur, ok := s.m[r.hash]; ok && cur == r {
			delete(s.m, r.hash)
			s.bytes -= int64(len(r.data))
		}
	}
}

func (s *sourceStore) totalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
