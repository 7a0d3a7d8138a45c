// Package chunker splits document text into overlapping chunks for embedding.
package chunker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChunkSize indicates a non-positive chunk size.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap indicates a negative overlap.
	ErrInvalidOverlap = errors.New("chunk overlap must not be negative")
)

// Chunk is a contiguous span of a source document.
//
// Chunks are ephemeral: they exist between splitting and embedding and are
// never persisted as their own entity.
type Chunk struct {
	// Content is the chunk text.
	Content string

	// Index is the zero-based position of the chunk within its document.
	Index int
}

// Split cuts text into chunks of at most chunkSize runes, with consecutive
// chunks sharing overlap runes.
//
// chunkSize is a hard contract: chunkSize <= 0 fails with ErrInvalidChunkSize
// and a chunk never exceeds it. overlap is a soft hint: a negative value fails
// with ErrInvalidOverlap, but overlap >= chunkSize is coerced to chunkSize/4
// so the window always advances.
//
// The window advances by chunkSize-overlap runes per step and stops once a
// chunk reaches the end of the text. Empty text yields no chunks; text shorter
// than chunkSize yields exactly one chunk containing the whole text.
// Concatenating the non-overlapping spans of consecutive chunks reconstructs
// the input exactly.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOverlap, overlap)
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}

	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := chunkSize - overlap

	var chunks []Chunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}

		chunks = append(chunks, Chunk{
			Content: string(runes[start:end]),
			Index:   len(chunks),
		})

		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// EffectiveOverlap returns the overlap Split actually uses for the given
// parameters, after coercion. It reports an error for the same parameter
// violations as Split.
func EffectiveOverlap(chunkSize, overlap int) (int, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if overlap < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidOverlap, overlap)
	}
	if overlap >= chunkSize {
		return chunkSize / 4, nil
	}
	return overlap, nil
}
