package chunker_test

import (
	"strings"
	"testing"

	"github.com/spacechat/ragcore/pkg/chunker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_InvalidParameters(t *testing.T) {
	_, err := chunker.Split("text", 0, 0)
	assert.ErrorIs(t, err, chunker.ErrInvalidChunkSize)

	_, err = chunker.Split("text", -5, 0)
	assert.ErrorIs(t, err, chunker.ErrInvalidChunkSize)

	_, err = chunker.Split("text", 100, -1)
	assert.ErrorIs(t, err, chunker.ErrInvalidOverlap)
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := chunker.Split("", 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_SingleChunk(t *testing.T) {
	chunks, err := chunker.Split("short", 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunker.Chunk{Content: "short", Index: 0}, chunks[0])
}

func TestSplit_OverlapCoercion(t *testing.T) {
	text := strings.Repeat("x", 1000)

	// overlap == chunkSize must not error and must still terminate.
	chunks, err := chunker.Split(text, 100, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	eff, err := chunker.EffectiveOverlap(100, 100)
	require.NoError(t, err)
	assert.Equal(t, 25, eff)
	assert.Less(t, eff, 100)

	// With coerced overlap 25 the window advances 75 per step.
	assert.Len(t, chunks, 13)
}

func TestSplit_SizeBound(t *testing.T) {
	text := strings.Repeat("abcdefghij", 137)

	for _, chunkSize := range []int{1, 7, 100, 500} {
		chunks, err := chunker.Split(text, chunkSize, chunkSize/5)
		require.NoError(t, err)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c.Content)), chunkSize)
		}
	}
}

func TestSplit_SequentialIndices(t *testing.T) {
	chunks, err := chunker.Split(strings.Repeat("a", 950), 100, 20)
	require.NoError(t, err)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}

// Concatenating the non-overlapping spans of consecutive chunks must
// reconstruct the original text exactly. Overlap regions are duplicated
// across neighbours, never dropped.
func TestSplit_Coverage(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
	}{
		{name: "no overlap", text: strings.Repeat("0123456789", 33), chunkSize: 50, overlap: 0},
		{name: "small overlap", text: strings.Repeat("0123456789", 33), chunkSize: 50, overlap: 10},
		{name: "large overlap", text: strings.Repeat("0123456789", 33), chunkSize: 50, overlap: 40},
		{name: "uneven tail", text: strings.Repeat("ab", 101), chunkSize: 64, overlap: 16},
		{name: "unicode", text: strings.Repeat("héllo wörld ", 40), chunkSize: 37, overlap: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunker.Split(tt.text, tt.chunkSize, tt.overlap)
			require.NoError(t, err)
			require.NotEmpty(t, chunks)

			eff, err := chunker.EffectiveOverlap(tt.chunkSize, tt.overlap)
			require.NoError(t, err)

			var rebuilt []rune
			for i, c := range chunks {
				runes := []rune(c.Content)
				if i == 0 {
					rebuilt = append(rebuilt, runes...)
					continue
				}
				// Drop the leading overlap shared with the previous chunk.
				skip := eff
				if skip > len(runes) {
					skip = len(runes)
				}
				rebuilt = append(rebuilt, runes[skip:]...)
			}
			assert.Equal(t, tt.text, string(rebuilt))
		})
	}
}

// 1400 chars at size 500 / overlap 100 advance 400 per step: four chunks of
// 500, 500, 500 and 200 runes.
func TestSplit_DocumentScenario(t *testing.T) {
	text := strings.Repeat("a", 1400)

	chunks, err := chunker.Split(text, 500, 100)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	assert.Equal(t, 500, len(chunks[0].Content))
	assert.Equal(t, 500, len(chunks[1].Content))
	assert.Equal(t, 500, len(chunks[2].Content))
	assert.Equal(t, 200, len(chunks[3].Content))
}
