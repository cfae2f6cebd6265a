package chunker

import (
	"testing"

	"github.com/askarin/cryptboard/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCount(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunkSize int
		want      int
	}{
		{"empty payload still occupies one chunk", 0, 4, 1},
		{"smaller than one chunk", 3, 4, 1},
		{"exact single chunk", 4, 4, 1},
		{"exact multiple", 8, 4, 2},
		{"remainder adds a chunk", 10, 4, 3},
		{"large", 1 << 20, 64 * 1024, 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Count(tt.size, tt.chunkSize))
		})
	}
}

func TestSplit(t *testing.T) {
	chunks, err := Split([]byte("ABCDEFGHIJ"), 4)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, []byte("ABCD"), chunks[0].Data)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, []byte("EFGH"), chunks[1].Data)
	assert.Equal(t, 2, chunks[2].Index)
	assert.Equal(t, []byte("IJ"), chunks[2].Data)
}

func TestSplit_ExactMultiple(t *testing.T) {
	chunks, err := Split([]byte("ABCDEFGH"), 4)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []byte("ABCD"), chunks[0].Data)
	assert.Equal(t, []byte("EFGH"), chunks[1].Data)
}

func TestSplit_Empty(t *testing.T) {
	chunks, err := Split(nil, 4)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Data)
}

func TestSplit_BadChunkSize(t *testing.T) {
	_, err := Split([]byte("x"), 0)
	assert.Error(t, err)
	_, err = Split([]byte("x"), -1)
	assert.Error(t, err)
}

func TestSplit_Deterministic(t *testing.T) {
	data := []byte("some payload that spans several chunks")
	a, err := Split(data, 7)
	require.NoError(t, err)
	b, err := Split(data, 7)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestReassemble_RoundTrip(t *testing.T) {
	data := []byte("ABCDEFGHIJ")
	chunks, err := Split(data, 4)
	require.NoError(t, err)

	got, err := Reassemble(chunks)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReassemble_OutOfOrder(t *testing.T) {
	chunks := []Chunk{
		{Index: 2, Data: []byte("IJ")},
		{Index: 0, Data: []byte("ABCD")},
		{Index: 1, Data: []byte("EFGH")},
	}
	got, err := Reassemble(chunks)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDEFGHIJ"), got)
}

func TestReassemble_MissingChunk(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Data: []byte("ABCD")},
		{Index: 2, Data: []byte("IJ")},
	}
	_, err := Reassemble(chunks)
	assert.ErrorIs(t, err, common.ErrIncompleteContent)
}

func TestReassemble_Empty(t *testing.T) {
	_, err := Reassemble(nil)
	assert.ErrorIs(t, err, common.ErrIncompleteContent)
}

func TestReassemble_NegativeIndex(t *testing.T) {
	chunks := []Chunk{
		{Index: -1, Data: []byte("ABCD")},
		{Index: 0, Data: []byte("EFGH")},
	}
	_, err := Reassemble(chunks)
	assert.ErrorIs(t, err, common.ErrOrdering)
}

func TestReassemble_IdenticalDuplicateTolerated(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Data: []byte("ABCD")},
		{Index: 1, Data: []byte("EFGH")},
		{Index: 1, Data: []byte("EFGH")},
	}
	got, err := Reassemble(chunks)
	require.NoError(t, err)
	assert.Equal(t, []byte("ABCDEFGH"), got)
}

func TestReassemble_ConflictingDuplicate(t *testing.T) {
	chunks := []Chunk{
		{Index: 0, Data: []byte("ABCD")},
		{Index: 1, Data: []byte("EFGH")},
		{Index: 1, Data: []byte("XXXX")},
	}
	_, err := Reassemble(chunks)
	assert.ErrorIs(t, err, common.ErrOrdering)
}
