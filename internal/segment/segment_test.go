package segment

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, quota int64) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), quota, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock makes created_at deterministic, one second per call.
func fakeClock(s *Store) {
	tick := int64(0)
	s.now = func() time.Time {
		tick++
		return time.Unix(1_700_000_000+tick, 0)
	}
}

func writeTestSegment(t *testing.T, s *Store, path string, fill byte) *Handle {
	t.Helper()
	src := bytes.Repeat([]byte{fill}, 1000)
	tree := bytes.Repeat([]byte{fill ^ 0xff}, 500)
	h, err := s.Write(path, fmt.Sprintf("h%d", fill), src, tree)
	require.NoError(t, err)
	return h
}

// =============================================================================
// Round-trips
// =============================================================================

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)

	src := []byte("fn foo(){ bar(); }")
	tree := []byte{0x01, 0x02, 0x03, 0x00, 0xff}
	h, err := s.Write("src/lib.rs", "deadbeef", src, tree)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(src)), h.SrcLen)
	assert.Equal(t, uint32(len(tree)), h.TreeLen)
	assert.Equal(t, int64(headerSize+len("src/lib.rs")+len("deadbeef")+len(src)+len(tree)), h.StoredBytes)

	gotSrc, gotTree, err := s.Read(h)
	require.NoError(t, err)
	assert.Equal(t, src, gotSrc)
	assert.Equal(t, tree, gotTree)

	found, ok, err := s.Lookup("src/lib.rs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", found.ContentHash)
	assert.Equal(t, h.File, found.File)
}

func TestWrite_EmptyPayloads(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)

	h, err := s.Write("empty.go", "e3b0", nil, nil)
	require.NoError(t, err)

	src, tree, err := s.Read(h)
	require.NoError(t, err)
	assert.Empty(t, src)
	assert.Empty(t, tree)
}

func TestWrite_ReplacesExistingPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)

	_, err := s.Write("main.go", "v1", []byte("one"), []byte{1})
	require.NoError(t, err)
	h2, err := s.Write("main.go", "v2", []byte("two"), []byte{2})
	require.NoError(t, err)

	all, err := s.Handles()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all[0].ContentHash)

	src, _, err := s.Read(h2)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), src)
}

func TestHandles_SurviveReopen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	s, err := Open(dir, 0, log)
	require.NoError(t, err)
	_, err = s.Write("a/b.py", "abc", []byte("def f(): pass"), []byte{9})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(dir, 0, log)
	require.NoError(t, err)
	defer s2.Close()

	all, err := s2.Handles()
	require.NoError(t, err)
	require.Len(t, all, 1)

	src, _, err := s2.Read(all[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("def f(): pass"), src)
}

// =============================================================================
// Validation
// =============================================================================

func TestRead_CorruptMagic(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	h := writeTestSegment(t, s, "x.go", 1)

	file := filepath.Join(s.dir, h.File)
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	raw[0] ^= 0xff
	require.NoError(t, os.WriteFile(file, raw, 0o644))

	_, _, err = s.Read(h)
	assert.ErrorIs(t, err, ErrSegmentCorrupt)
}

func TestRead_TamperedBody(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	h := writeTestSegment(t, s, "y.go", 2)

	file := filepath.Join(s.dir, h.File)
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, os.WriteFile(file, raw, 0o644))

	_, _, err = s.Read(h)
	assert.ErrorIs(t, err, ErrSegmentCorrupt)
}

func TestRead_TruncatedFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	h := writeTestSegment(t, s, "z.go", 3)

	file := filepath.Join(s.dir, h.File)
	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(file, raw[:len(raw)/2], 0o644))

	_, _, err = s.Read(h)
	assert.ErrorIs(t, err, ErrSegmentCorrupt)
}

func TestRead_MissingFile(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	h := writeTestSegment(t, s, "gone.go", 4)
	require.NoError(t, os.Remove(filepath.Join(s.dir, h.File)))

	_, _, err := s.Read(h)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSegmentCorrupt)
}

// =============================================================================
// Catalog
// =============================================================================

func TestRemove_DropsFileAndRow(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	h := writeTestSegment(t, s, "rm.go", 5)

	require.NoError(t, s.Remove("rm.go"))
	_, ok, err := s.Lookup("rm.go")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(s.dir, h.File))

	// Removing an absent path is a no-op.
	assert.NoError(t, s.Remove("rm.go"))
}

func TestTouch_BumpsAccessMetadata(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	fakeClock(s)
	writeTestSegment(t, s, "touch.go", 6)

	require.NoError(t, s.Touch("touch.go"))
	require.NoError(t, s.Touch("touch.go"))

	h, ok, err := s.Lookup("touch.go")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), h.AccessCount)
	assert.Greater(t, h.LastAccess, h.CreatedAt)
}

func TestEvictOverQuota_OldestFirst(t *testing.T) {
	t.Parallel()
	// Each segment is 24 + 4 + 2 + 1000 + 500 = 1530 bytes. Three total
	// 4590; a 3100-byte quota forces exactly the oldest one out.
	s := newTestStore(t, 3100)
	fakeClock(s)

	writeTestSegment(t, s, "a.go", 1)
	writeTestSegment(t, s, "b.go", 2)
	writeTestSegment(t, s, "c.go", 3)

	evicted, err := s.EvictOverQuota()
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, evicted)

	total, err := s.TotalBytes()
	require.NoError(t, err)
	assert.LessOrEqual(t, total, int64(3100))

	_, ok, err := s.Lookup("b.go")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Lookup("c.go")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvictOverQuota_UnboundedIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, 0)
	writeTestSegment(t, s, "keep.go", 7)

	evicted, err := s.EvictOverQuota()
	require.NoError(t, err)
	assert.Empty(t, evicted)
}
