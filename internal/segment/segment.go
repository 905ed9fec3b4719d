// Package segment persists frozen cache entries as single-file segments
// under a spill directory, with a SQLite catalog for lookup, recovery and
// quota accounting.
//
// A segment holds one file's compressed source and compressed tree blob
// behind a fixed 24-byte header. Payloads are stored exactly as given;
// callers compress them before writing. Segments are written to a temp
// file and renamed into place, so readers never observe a partial write.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ErrSegmentCorrupt is wrapped by Read for any segment that fails
// validation. Callers treat the entry as missing.
var ErrSegmentCorrupt = errors.New("corrupt segment")

const (
	segmentMagic   = 0x46525A31 // "FRZ1"
	segmentVersion = 1
	headerSize     = 24

	maxPathLen = 1 << 15
)

// Handle identifies one frozen entry. It is small enough to stay resident
// while the payloads live on disk.
type Handle struct {
	Path        string
	ContentHash string
	File        string // segment filename relative to the store dir
	SrcLen      uint32 // compressed source payload bytes
	TreeLen     uint32 // compressed tree payload bytes
	StoredBytes int64  // total segment file size
	CreatedAt   int64  // unix seconds
	LastAccess  int64
	AccessCount int64
}

// Store owns the segment directory and its catalog.
type Store struct {
	dir   string
	quota int64
	idx   *Index
	log   *slog.Logger
	now   func() time.Time
}

// Open prepares dir for segment storage and opens the catalog inside it.
// quota is the byte budget for all segments combined; zero or negative
// means unbounded.
func Open(dir string, quota int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}
	idx, err := OpenIndex(filepath.Join(dir, "frozen.db"))
	if err != nil {
		return nil, err
	}
	if err := idx.Migrate(); err != nil {
		idx.Close()
		return nil, err
	}
	return &Store{dir: dir, quota: quota, idx: idx, log: logger, now: time.Now}, nil
}

// Close closes the catalog. Segment files stay on disk for the next Open.
func (s *Store) Close() error {
	return s.idx.Close()
}

// Write persists one entry as a segment file and records it in the
// catalog. An existing segment for the same path is replaced.
func (s *Store) Write(path, contentHash string, source, tree []byte) (*Handle, error) {
	if len(path) == 0 || len(path) > maxPathLen {
		return nil, fmt.Errorf("segment path length %d out of range", len(path))
	}
	if len(contentHash) > maxPathLen {
		return nil, fmt.Errorf("segment content hash length %d out of range", len(contentHash))
	}

	body := make([]byte, 0, len(path)+len(contentHash)+len(source)+len(tree))
	body = append(body, path...)
	body = append(body, contentHash...)
	body = append(body, source...)
	body = append(body, tree...)

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], segmentMagic)
	binary.LittleEndian.PutUint16(header[4:], segmentVersion)
	binary.LittleEndian.PutUint16(header[6:], uint16(len(path)))
	binary.LittleEndian.PutUint16(header[8:], uint16(len(contentHash)))
	binary.LittleEndian.PutUint32(header[12:], uint32(len(source)))
	binary.LittleEndian.PutUint32(header[16:], uint32(len(tree)))
	binary.LittleEndian.PutUint32(header[20:], crc32.ChecksumIEEE(body))

	name := segmentName(path)
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".seg-*")
	if err != nil {
		return nil, fmt.Errorf("create temp segment: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(header); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write segment header: %w", err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write segment body: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync segment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close segment: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return nil, fmt.Errorf("rename segment into place: %w", err)
	}

	now := s.now().Unix()
	h := &Handle{
		Path:        path,
		ContentHash: contentHash,
		File:        name,
		SrcLen:      uint32(len(source)),
		TreeLen:     uint32(len(tree)),
		StoredBytes: int64(headerSize + len(body)),
		CreatedAt:   now,
		LastAccess:  now,
	}
	if err := s.idx.Insert(h); err != nil {
		os.Remove(final)
		return nil, err
	}
	return h, nil
}

// Read loads the payloads behind h and validates them against the header
// checksum and the handle's path and content hash.
func (s *Store) Read(h *Handle) (source, tree []byte, err error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, h.File))
	if err != nil {
		return nil, nil, fmt.Errorf("read segment %s: %w", h.File, err)
	}
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes", ErrSegmentCorrupt, h.File, len(raw))
	}
	if magic := binary.LittleEndian.Uint32(raw[0:]); magic != segmentMagic {
		return nil, nil, fmt.Errorf("%w: %s has magic %#x", ErrSegmentCorrupt, h.File, magic)
	}
	if v := binary.LittleEndian.Uint16(raw[4:]); v != segmentVersion {
		return nil, nil, fmt.Errorf("%w: %s has version %d", ErrSegmentCorrupt, h.File, v)
	}

	pathLen := int(binary.LittleEndian.Uint16(raw[6:]))
	hashLen := int(binary.LittleEndian.Uint16(raw[8:]))
	srcLen := int(binary.LittleEndian.Uint32(raw[12:]))
	treeLen := int(binary.LittleEndian.Uint32(raw[16:]))

	body := raw[headerSize:]
	if len(body) != pathLen+hashLen+srcLen+treeLen {
		return nil, nil, fmt.Errorf("%w: %s body is %d bytes, header says %d",
			ErrSegmentCorrupt, h.File, len(body), pathLen+hashLen+srcLen+treeLen)
	}
	if sum := crc32.ChecksumIEEE(body); sum != binary.LittleEndian.Uint32(raw[20:]) {
		return nil, nil, fmt.Errorf("%w: %s checksum mismatch", ErrSegmentCorrupt, h.File)
	}
	if string(body[:pathLen]) != h.Path {
		return nil, nil, fmt.Errorf("%w: %s holds a different path", ErrSegmentCorrupt, h.File)
	}
	if string(body[pathLen:pathLen+hashLen]) != h.ContentHash {
		return nil, nil, fmt.Errorf("%w: %s holds a different version of %s",
			ErrSegmentCorrupt, h.File, h.Path)
	}

	off := pathLen + hashLen
	source = body[off : off+srcLen : off+srcLen]
	tree = body[off+srcLen : off+srcLen+treeLen : off+srcLen+treeLen]
	return source, tree, nil
}

// Lookup returns the catalog handle for path, if one exists.
func (s *Store) Lookup(path string) (*Handle, bool, error) {
	return s.idx.Lookup(path)
}

// Touch records an access to path in the catalog.
func (s *Store) Touch(path string) error {
	return s.idx.Touch(path, s.now().Unix())
}

// Remove deletes path's segment file and catalog row.
func (s *Store) Remove(path string) error {
	h, ok, err := s.idx.Lookup(path)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := s.idx.Delete(path); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, h.File)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment %s: %w", h.File, err)
	}
	return nil
}

// EvictOverQuota removes oldest segments first until total stored bytes
// fit the quota, returning the evicted paths.
func (s *Store) EvictOverQuota() ([]string, error) {
	if s.quota <= 0 {
		return nil, nil
	}
	total, err := s.idx.TotalBytes()
	if err != nil {
		return nil, err
	}
	var evicted []string
	for total > s.quota {
		victims, err := s.idx.Oldest(16)
		if err != nil {
			return evicted, err
		}
		if len(victims) == 0 {
			break
		}
		for _, h := range victims {
			if total <= s.quota {
				break
			}
			if err := s.Remove(h.Path); err != nil {
				return evicted, err
			}
			total -= h.StoredBytes
			evicted = append(evicted, h.Path)
			s.log.Debug("evicted frozen segment", "path", h.Path, "bytes", h.StoredBytes)
		}
	}
	return evicted, nil
}

// Handles returns every cataloged entry, for cache recovery after a
// restart.
func (s *Store) Handles() ([]*Handle, error) {
	return s.idx.All()
}

// TotalBytes reports the cataloged size of all segments.
func (s *Store) TotalBytes() (int64, error) {
	return s.idx.TotalBytes()
}

// segmentName derives a stable filename from the entry path. The path
// itself is stored in the segment header, so a hash collision surfaces as
// a validation failure rather than silently serving the wrong file.
func segmentName(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%016x.seg", h.Sum64())
}
