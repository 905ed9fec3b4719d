package grove

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrCorruptTreeBlob is wrapped by UnmarshalTree for any blob it cannot
// decode. Callers treat it as a compression-layer failure and fall back to
// re-parsing; it never aborts a lookup.
var ErrCorruptTreeBlob = errors.New("corrupt tree blob")

const (
	treeBlobMagic   uint32 = 0x47545231 // "GTR1"
	treeBlobVersion uint16 = 1
)

// MarshalTree serializes a tree's node table to a self-contained blob.
// Kind and field names travel as a local string table, so the blob decodes
// in a process whose intern pool assigns different ids. Source bytes are
// not included; the frozen segment stores them alongside.
func MarshalTree(t *Tree) ([]byte, error) {
	if t == nil || t.Len() == 0 {
		return nil, fmt.Errorf("marshal tree: empty tree")
	}

	// Dense local ids for the kinds and fields this tree actually uses.
	var (
		kindLocal  = make(map[uint32]uint64)
		fieldLocal = make(map[uint32]uint64)
		kindNames  []string
		fieldNames []string
	)
	for _, k := range t.kinds {
		if _, ok := kindLocal[k]; !ok {
			name, ok := t.pool.Resolve(SymbolID(k))
			if !ok {
				return nil, fmt.Errorf("marshal tree: kind id %d not in pool", k)
			}
			kindLocal[k] = uint64(len(kindNames))
			kindNames = append(kindNames, name)
		}
	}
	for _, f := range t.fields {
		if f == 0 {
			continue
		}
		if _, ok := fieldLocal[f]; !ok {
			name, ok := t.pool.Resolve(SymbolID(f))
			if !ok {
				return nil, fmt.Errorf("marshal tree: field id %d not in pool", f)
			}
			fieldLocal[f] = uint64(len(fieldNames))
			fieldNames = append(fieldNames, name)
		}
	}

	buf := make([]byte, 0, 16+t.Len()*8)
	buf = binary.LittleEndian.AppendUint32(buf, treeBlobMagic)
	buf = binary.LittleEndian.AppendUint16(buf, treeBlobVersion)
	buf = binary.LittleEndian.AppendUint16(buf, 0)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Len()))

	buf = appendStringTable(buf, kindNames)
	buf = appendStringTable(buf, fieldNames)

	var prevStart uint64
	for pos := 0; pos < t.Len(); pos++ {
		buf = binary.AppendUvarint(buf, kindLocal[t.kinds[pos]])
		buf = append(buf, t.flags[pos])
		if t.flags[pos]&flagField != 0 {
			buf = binary.AppendUvarint(buf, fieldLocal[t.fields[pos]]+1)
		} else {
			buf = binary.AppendUvarint(buf, 0)
		}
		start := uint64(t.starts[pos])
		buf = binary.AppendUvarint(buf, start-prevStart)
		prevStart = start
		buf = binary.AppendUvarint(buf, uint64(t.ends[pos])-start)
		if p := t.parents[pos]; p < 0 {
			buf = binary.AppendUvarint(buf, 0)
		} else {
			buf = binary.AppendUvarint(buf, uint64(pos)-uint64(p))
		}
		buf = binary.AppendUvarint(buf, uint64(t.subtree[pos]))
	}
	return buf, nil
}

// UnmarshalTree decodes a blob produced by MarshalTree, re-interning names
// through pool and attaching source. Any structural inconsistency returns
// an error wrapping ErrCorruptTreeBlob.
func UnmarshalTree(blob, source []byte, pool *InternPool) (*Tree, error) {
	r := blobReader{b: blob}

	magic, err := r.u32()
	if err != nil || magic != treeBlobMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptTreeBlob)
	}
	version, err := r.u16()
	if err != nil || version != treeBlobVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptTreeBlob, version)
	}
	if _, err := r.u16(); err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCorruptTreeBlob)
	}
	count, err := r.u32()
	if err != nil || count == 0 || count > math.MaxInt32 {
		return nil, fmt.Errorf("%w: bad node count", ErrCorruptTreeBlob)
	}

	kindNames, err := r.stringTable()
	if err != nil {
		return nil, fmt.Errorf("%w: kind table: %v", ErrCorruptTreeBlob, err)
	}
	fieldNames, err := r.stringTable()
	if err != nil {
		return nil, fmt.Errorf("%w: field table: %v", ErrCorruptTreeBlob, err)
	}

	kindIDs := make([]uint32, len(kindNames))
	for i, name := range kindNames {
		id, ok := pool.Intern(name)
		if !ok {
			return nil, fmt.Errorf("%w: kind %q rejected by pool", ErrCorruptTreeBlob, name)
		}
		kindIDs[i] = uint32(id)
	}
	fieldIDs := make([]uint32, len(fieldNames))
	for i, name := range fieldNames {
		id, ok := pool.Intern(name)
		if !ok {
			return nil, fmt.Errorf("%w: field %q rejected by pool", ErrCorruptTreeBlob, name)
		}
		fieldIDs[i] = uint32(id)
	}

	n := int(count)
	t := &Tree{
		pool:    pool,
		source:  source,
		kinds:   make([]uint32, n),
		flags:   make([]uint8, n),
		fields:  make([]uint32, n),
		starts:  make([]uint32, n),
		ends:    make([]uint32, n),
		parents: make([]int32, n),
		subtree: make([]uint32, n),
	}

	var prevStart uint64
	for pos := 0; pos < n; pos++ {
		kindLocal, err := r.uvarint()
		if err != nil || kindLocal >= uint64(len(kindIDs)) {
			return nil, fmt.Errorf("%w: node %d kind", ErrCorruptTreeBlob, pos)
		}
		t.kinds[pos] = kindIDs[kindLocal]

		flags, err := r.byte()
		if err != nil {
			return nil, fmt.Errorf("%w: node %d flags", ErrCorruptTreeBlob, pos)
		}
		t.flags[pos] = flags

		fieldLocal, err := r.uvarint()
		if err != nil || fieldLocal > uint64(len(fieldIDs)) {
			return nil, fmt.Errorf("%w: node %d field", ErrCorruptTreeBlob, pos)
		}
		if flags&flagField != 0 {
			if fieldLocal == 0 {
				return nil, fmt.Errorf("%w: node %d field flag without id", ErrCorruptTreeBlob, pos)
			}
			t.fields[pos] = fieldIDs[fieldLocal-1]
		}

		dStart, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: node %d start", ErrCorruptTreeBlob, pos)
		}
		prevStart += dStart
		length, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: node %d length", ErrCorruptTreeBlob, pos)
		}
		if prevStart+length > uint64(len(source)) || prevStart+length > math.MaxUint32 {
			return nil, fmt.Errorf("%w: node %d range exceeds source", ErrCorruptTreeBlob, pos)
		}
		t.starts[pos] = uint32(prevStart)
		t.ends[pos] = uint32(prevStart + length)

		back, err := r.uvarint()
		if err != nil || back > uint64(pos) {
			return nil, fmt.Errorf("%w: node %d parent", ErrCorruptTreeBlob, pos)
		}
		if back == 0 {
			if pos != 0 {
				return nil, fmt.Errorf("%w: node %d claims to be root", ErrCorruptTreeBlob, pos)
			}
			t.parents[pos] = -1
		} else {
			t.parents[pos] = int32(uint64(pos) - back)
		}

		size, err := r.uvarint()
		if err != nil || size == 0 || uint64(pos)+size > uint64(n) {
			return nil, fmt.Errorf("%w: node %d subtree size", ErrCorruptTreeBlob, pos)
		}
		t.subtree[pos] = uint32(size)
	}
	if t.subtree[0] != uint32(n) {
		return nil, fmt.Errorf("%w: root subtree %d != %d nodes", ErrCorruptTreeBlob, t.subtree[0], n)
	}
	if !r.empty() {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptTreeBlob, r.remaining())
	}
	return t, nil
}

func appendStringTable(buf []byte, names []string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(names)))
	for _, s := range names {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	return buf
}

// blobReader is a cursor over a tree blob with bounds-checked reads.
type blobReader struct {
	b   []byte
	off int
}

func (r *blobReader) empty() bool    { return r.off >= len(r.b) }
func (r *blobReader) remaining() int { return len(r.b) - r.off }

func (r *blobReader) byte() (uint8, error) {
	if r.off+1 > len(r.b) {
		return 0, errors.New("short read")
	}
	v := r.b[r.off]
	r.off++
	return v, nil
}

func (r *blobReader) u16() (uint16, error) {
	if r.off+2 > len(r.b) {
		return 0, errors.New("short read")
	}
	v := binary.LittleEndian.Uint16(r.b[r.off:])
	r.off += 2
	return v, nil
}

func (r *blobReader) u32() (uint32, error) {
	if r.off+4 > len(r.b) {
		return 0, errors.New("short read")
	}
	v := binary.LittleEndian.Uint32(r.b[r.off:])
	r.off += 4
	return v, nil
}

func (r *blobReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.off:])
	if n <= 0 {
		return 0, errors.New("bad uvarint")
	}
	r.off += n
	return v, nil
}

func (r *blobReader) stringTable() ([]string, error) {
	count, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if count > uint64(r.remaining()) {
		return nil, errors.New("table larger than blob")
	}
	names := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if size > uint64(r.remaining()) {
			return nil, errors.New("string larger than blob")
		}
		names = append(names, string(r.b[r.off:r.off+int(size)]))
		r.off += int(size)
	}
	return names, nil
}
