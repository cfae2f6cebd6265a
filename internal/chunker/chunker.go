// Package chunker splits encrypted payloads into ordered fixed-size chunks
// and reassembles them for decryption.
package chunker

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/askarin/cryptboard/internal/common"
)

// Chunk is one slice of a content item's ciphertext. Every chunk has the
// configured size except the last, which carries the remainder.
type Chunk struct {
	Index int
	Data  []byte
}

// Count returns the number of chunks a payload of size bytes occupies at
// the given chunk size. A zero-length payload still occupies one (empty)
// chunk so the store has something to finalize.
func Count(size int64, chunkSize int) int {
	if size == 0 {
		return 1
	}
	n := size / int64(chunkSize)
	if size%int64(chunkSize) != 0 {
		n++
	}
	return int(n)
}

// Split slices data into chunks of chunkSize bytes. It is a pure function:
// the same input always yields the same sequence, so an interrupted upload
// can restart from any index. The returned chunks alias data.
func Split(data []byte, chunkSize int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}

	n := Count(int64(len(data)), chunkSize)
	chunks := make([]Chunk, 0, n)

	for i := 0; i < n; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{Index: i, Data: data[start:end]})
	}

	return chunks, nil
}

// Reassemble concatenates chunks in index order. It requires contiguous
// indices 0..N-1: a missing index fails with common.ErrIncompleteContent,
// a duplicated index with differing bytes fails with common.ErrOrdering.
// Duplicates with identical bytes are tolerated (retried sends).
func Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks", common.ErrIncompleteContent)
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	if sorted[0].Index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", common.ErrOrdering, sorted[0].Index)
	}

	var buf bytes.Buffer
	next := 0
	for i := 0; i < len(sorted); i++ {
		c := sorted[i]
		switch {
		case c.Index == next-1:
			// duplicate of the previous index
			if !bytes.Equal(c.Data, sorted[i-1].Data) {
				return nil, fmt.Errorf("%w: index %d duplicated with differing content", common.ErrOrdering, c.Index)
			}
			continue
		case c.Index != next:
			return nil, fmt.Errorf("%w: missing index %d", common.ErrIncompleteContent, next)
		}
		buf.Write(c.Data)
		next++
	}

	return buf.Bytes(), nil
}
