package grove

import (
	"encoding/binary"
	"errors"
	"slices"
	"sync"

	"github.com/aproctor/grove/langtab"
)

// SymbolIndex holds compressed postings for one tree version: for each
// interned symbol name, the sorted pre-order positions of its plain
// occurrences, its definitions, and its references, each list delta-encoded
// with unsigned varints.
//
// An index is built once per (path, content-hash) and read-only afterward,
// with one exception: a postings list that fails to decode is dropped so
// later lookups return empty instead of failing again.
type SymbolIndex struct {
	pool *InternPool

	mu          sync.RWMutex
	symbols     map[SymbolID][]byte
	definitions map[SymbolID][]byte
	references  map[SymbolID][]byte
}

// BuildIndex classifies every node of t against the language table in a
// single pass over the pre-order node table (the flat layout is its own
// depth-first traversal), buffering raw position lists per symbol and then
// sorting and encoding each list exactly once.
//
// Occurrence-role nodes index under their own text. Definition- and
// reference-role nodes index under an extracted name: the node's child
// bound to one of the table's name fields when that resolves to an
// occurrence-role node, otherwise the first occurrence-role descendant.
// Nodes whose name cannot be extracted or interned are skipped.
func BuildIndex(t *Tree, table *langtab.Table) *SymbolIndex {
	ix := &SymbolIndex{
		pool:        t.pool,
		symbols:     make(map[SymbolID][]byte),
		definitions: make(map[SymbolID][]byte),
		references:  make(map[SymbolID][]byte),
	}
	if t.Len() == 0 || table == nil {
		return ix
	}

	// Kind ids repeat millions of times; resolve each to a role once.
	roles := make(map[uint32]langtab.Role)
	roleOf := func(kind uint32) langtab.Role {
		if r, ok := roles[kind]; ok {
			return r
		}
		name, _ := t.pool.Resolve(SymbolID(kind))
		r := table.Role(name)
		roles[kind] = r
		return r
	}

	var (
		symBuf = make(map[SymbolID][]uint32)
		defBuf = make(map[SymbolID][]uint32)
		refBuf = make(map[SymbolID][]uint32)
	)
	for pos := 0; pos < t.Len(); pos++ {
		p := uint32(pos)
		switch roleOf(t.kinds[pos]) {
		case langtab.RoleOccurrence:
			if id, ok := t.pool.Intern(string(t.source[t.starts[pos]:t.ends[pos]])); ok {
				symBuf[id] = append(symBuf[id], p)
			}
		case langtab.RoleDefinition:
			if id, ok := extractName(t, p, table, roleOf); ok {
				defBuf[id] = append(defBuf[id], p)
			}
		case langtab.RoleReference:
			if id, ok := extractName(t, p, table, roleOf); ok {
				refBuf[id] = append(refBuf[id], p)
			}
		}
	}

	for id, positions := range symBuf {
		ix.symbols[id] = encodePostings(positions)
	}
	for id, positions := range defBuf {
		ix.definitions[id] = encodePostings(positions)
	}
	for id, positions := range refBuf {
		ix.references[id] = encodePostings(positions)
	}
	return ix
}

// extractName finds the symbol name for a definition or reference node and
// interns it. ok is false when no occurrence-role descendant exists or the
// pool rejects the name.
func extractName(t *Tree, pos uint32, table *langtab.Table, roleOf func(uint32) langtab.Role) (SymbolID, bool) {
	for _, field := range table.NameFields() {
		fieldID, ok := t.pool.ID(field)
		if !ok {
			continue
		}
		end := pos + t.subtree[pos]
		for q := pos + 1; q < end; q += t.subtree[q] {
			if t.flags[q]&flagField == 0 || t.fields[q] != uint32(fieldID) {
				continue
			}
			if roleOf(t.kinds[q]) == langtab.RoleOccurrence {
				return t.pool.Intern(string(t.source[t.starts[q]:t.ends[q]]))
			}
			if id, ok := firstOccurrence(t, q, roleOf); ok {
				return id, true
			}
		}
	}
	return firstOccurrence(t, pos, roleOf)
}

// firstOccurrence returns the interned text of the first occurrence-role
// node strictly inside the subtree at pos.
func firstOccurrence(t *Tree, pos uint32, roleOf func(uint32) langtab.Role) (SymbolID, bool) {
	end := pos + t.subtree[pos]
	for q := pos + 1; q < end; q++ {
		if roleOf(t.kinds[q]) == langtab.RoleOccurrence {
			return t.pool.Intern(string(t.source[t.starts[q]:t.ends[q]]))
		}
	}
	return 0, false
}

// FindSymbol returns the positions of every plain occurrence of name,
// empty when the name was never interned or indexed.
func (ix *SymbolIndex) FindSymbol(name string) []uint32 {
	return ix.lookup(name, func() map[SymbolID][]byte { return ix.symbols })
}

// FindDefinition returns the position of the first definition of name.
// Definitions are effectively unique per name within one file; callers
// dealing with overloads should combine FindSymbol with a kind filter.
func (ix *SymbolIndex) FindDefinition(name string) (uint32, bool) {
	positions := ix.lookup(name, func() map[SymbolID][]byte { return ix.definitions })
	if len(positions) == 0 {
		return 0, false
	}
	return positions[0], true
}

// FindReferences returns the positions of every reference to name.
func (ix *SymbolIndex) FindReferences(name string) []uint32 {
	return ix.lookup(name, func() map[SymbolID][]byte { return ix.references })
}

// lookup resolves name to an id without interning, decodes the postings
// list from the chosen table, and drops the entry on decode failure.
func (ix *SymbolIndex) lookup(name string, tableFn func() map[SymbolID][]byte) []uint32 {
	id, ok := ix.pool.ID(name)
	if !ok {
		return nil
	}
	ix.mu.RLock()
	encoded, ok := tableFn()[id]
	ix.mu.RUnlock()
	if !ok {
		return nil
	}
	positions, err := decodePostings(encoded)
	if err != nil {
		ix.mu.Lock()
		delete(tableFn(), id)
		ix.mu.Unlock()
		return nil
	}
	return positions
}

// Counts returns the number of distinct names in each table. Used by the
// CLI and by stats reporting.
func (ix *SymbolIndex) Counts() (symbols, definitions, references int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.symbols), len(ix.definitions), len(ix.references)
}

var errCorruptPostings = errors.New("corrupt postings")

// encodePostings sorts positions and encodes them as a first value plus
// deltas, each an unsigned varint.
func encodePostings(positions []uint32) []byte {
	slices.Sort(positions)
	buf := make([]byte, 0, len(positions)+4)
	var prev uint32
	for i, p := range positions {
		if i == 0 {
			buf = binary.AppendUvarint(buf, uint64(p))
		} else {
			buf = binary.AppendUvarint(buf, uint64(p-prev))
		}
		prev = p
	}
	return buf
}

// decodePostings reverses encodePostings, rejecting malformed varints,
// position overflow, and non-increasing sequences.
func decodePostings(buf []byte) ([]uint32, error) {
	var (
		out  []uint32
		prev uint64
		off  int
	)
	for off < len(buf) {
		v, n := binary.Uvarint(buf[off:])
		if n <= 0 {
			return nil, errCorruptPostings
		}
		off += n
		if len(out) == 0 {
			prev = v
		} else {
			if v == 0 {
				return nil, errCorruptPostings
			}
			prev += v
		}
		if prev > uint64(^uint32(0)) {
			return nil, errCorruptPostings
		}
		out = append(out, uint32(prev))
	}
	return out, nil
}
