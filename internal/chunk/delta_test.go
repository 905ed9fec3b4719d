package chunk

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_FirstVersionHasNoGain(t *testing.T) {
	s := NewStore()
	data := randBytes(t, 10, 48<<10)

	entry, err := s.Encode(data)
	assert.ErrorIs(t, err, ErrNoGain)
	assert.Nil(t, entry)

	// The chunks are seeded anyway so the next version can delta against
	// them.
	assert.Greater(t, s.Len(), 0)
}

func TestEncode_SecondVersionDeltasAgainstFirst(t *testing.T) {
	s := NewStore()
	v1 := randBytes(t, 11, 48<<10)

	_, err := s.Encode(v1)
	require.ErrorIs(t, err, ErrNoGain)

	// Flip one byte in the middle; all but one or two chunks stay shared.
	v2 := bytes.Clone(v1)
	v2[24<<10] ^= 0x5a

	entry, err := s.Encode(v2)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, len(v2), entry.Len())

	got, err := s.Decode(entry)
	require.NoError(t, err)
	assert.Equal(t, v2, got)
}

func TestEncode_UnrelatedContentHasNoGain(t *testing.T) {
	s := NewStore()
	_, err := s.Encode(randBytes(t, 12, 48<<10))
	require.ErrorIs(t, err, ErrNoGain)

	_, err = s.Encode(randBytes(t, 13, 48<<10))
	assert.ErrorIs(t, err, ErrNoGain)
}

func TestEncode_EmptyInputHasNoGain(t *testing.T) {
	s := NewStore()
	entry, err := s.Encode(nil)
	assert.ErrorIs(t, err, ErrNoGain)
	assert.Nil(t, entry)
}

func TestDecode_MissingChunkFails(t *testing.T) {
	s := NewStore()
	data := randBytes(t, 14, 48<<10)

	_, err := s.Encode(data)
	require.ErrorIs(t, err, ErrNoGain)
	entry, err := s.Encode(data)
	require.NoError(t, err)

	// Dropping the entry's references and pruning evicts its chunks.
	s.Release(entry)
	require.Greater(t, s.Prune(), int64(0))

	_, err = s.Decode(entry)
	assert.ErrorIs(t, err, ErrChunkMissing)
}

func TestRelease_SharedChunksSurviveOtherEntries(t *testing.T) {
	s := NewStore()
	data := randBytes(t, 15, 48<<10)

	_, err := s.Encode(data)
	require.ErrorIs(t, err, ErrNoGain)

	// Two live entries over the same chunks.
	e1, err := s.Encode(data)
	require.NoError(t, err)
	e2, err := s.Encode(data)
	require.NoError(t, err)

	s.Release(e1)
	assert.Zero(t, s.Prune())

	got, err := s.Decode(e2)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
