// Package chunk slices a byte buffer into ordered base64 segments and back.
//
// A blob's processed bytes are base64-encoded once and cut into fixed-length
// substrings. Segments are positional: Join sorts by index before decoding, so
// storage order does not matter, but a missing segment corrupts the result.
package chunk

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sort"

	"github.com/prn-tf/imagevault/internal/domain"
)

// DefaultSize is the segment length in base64 characters.
const DefaultSize = 16384

var (
	// ErrInvalidSize indicates a non-positive chunk size.
	ErrInvalidSize = errors.New("chunk size must be positive")

	// ErrNotContiguous indicates indices are not exactly 0..n-1.
	ErrNotContiguous = errors.New("chunk indices are not contiguous")
)

// Split base64-encodes data and cuts it into size-character segments.
// The last segment may be shorter. Empty input yields no segments.
func Split(data []byte, size int) ([]domain.Chunk, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := make([]domain.Chunk, 0, Count(len(encoded), size))
	for i, off := 0, 0; off < len(encoded); i, off = i+1, off+size {
		end := off + size
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, domain.Chunk{Index: i, Data: encoded[off:end]})
	}
	return chunks, nil
}

// Join sorts chunks by index, concatenates them and decodes the result.
// The input slice is not modified.
func Join(chunks []domain.Chunk) ([]byte, error) {
	sorted := make([]domain.Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	n := 0
	for _, c := range sorted {
		n += len(c.Data)
	}
	buf := make([]byte, 0, n)
	for _, c := range sorted {
		buf = append(buf, c.Data...)
	}

	out := make([]byte, base64.StdEncoding.DecodedLen(len(buf)))
	written, err := base64.StdEncoding.Decode(out, buf)
	if err != nil {
		return nil, fmt.Errorf("failed to decode chunks: %w", err)
	}
	return out[:written], nil
}

// Verify checks that indices form the sequence 0..n-1 and that n matches
// the recorded count. Join does not call it.
func Verify(chunks []domain.Chunk, count int) error {
	if len(chunks) != count {
		return fmt.Errorf("%w: have %d, want %d", ErrNotContiguous, len(chunks), count)
	}
	seen := make([]bool, len(chunks))
	for _, c := range chunks {
		if c.Index < 0 || c.Index >= len(chunks) || seen[c.Index] {
			return fmt.Errorf("%w: unexpected index %d", ErrNotContiguous, c.Index)
		}
		seen[c.Index] = true
	}
	return nil
}

// Count returns ceil(encodedLen / size).
func Count(encodedLen, size int) int {
	if size <= 0 || encodedLen <= 0 {
		return 0
	}
	return (encodedLen + size - 1) / size
}

// EncodedLen returns the base64 length of n raw bytes.
func EncodedLen(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}
