package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults are valid", Config{ChunkSize: 1000, ChunkOverlap: 200}, false},
		{"zero overlap ok", Config{ChunkSize: 100, ChunkOverlap: 0}, false},
		{"negative size", Config{ChunkSize: -1, ChunkOverlap: 0}, true},
		{"overlap equals size", Config{ChunkSize: 100, ChunkOverlap: 100}, true},
		{"overlap exceeds size", Config{ChunkSize: 100, ChunkOverlap: 150}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSplitEmptyInput(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	assert.Empty(t, c.Split(""))
	assert.Empty(t, c.Split("   \n\t  \n"))
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	c, err := New(Config{ChunkSize: 100, ChunkOverlap: 20})
	require.NoError(t, err)

	chunks := c.Split("a short note about groceries")
	require.Len(t, chunks, 1)
	assert.Equal(t, "a short note about groceries", chunks[0])
}

func TestSplitRespectsChunkSize(t *testing.T) {
	c, err := New(Config{ChunkSize: 50, ChunkOverlap: 10})
	require.NoError(t, err)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 30)
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 50, "chunk %d exceeds size", i)
		assert.NotEmpty(t, strings.TrimSpace(chunk), "chunk %d is blank", i)
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	c, err := New(Config{ChunkSize: 40, ChunkOverlap: 0})
	require.NoError(t, err)

	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird paragraph here."
	chunks := c.Split(text)
	require.NotEmpty(t, chunks)

	// Paragraphs are short enough to never be cut mid-word.
	for _, chunk := range chunks {
		assert.Contains(t, chunk, "paragraph")
	}
}

func TestSplitDeterministic(t *testing.T) {
	c, err := New(Config{ChunkSize: 64, ChunkOverlap: 16})
	require.NoError(t, err)

	text := strings.Repeat("some note content with sentences. and more text here! ", 20)
	first := c.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, c.Split(text))
	}
}

func TestSplitForcedBreakOverlap(t *testing.T) {
	c, err := New(Config{ChunkSize: 20, ChunkOverlap: 5})
	require.NoError(t, err)

	// No separators at all: forces fixed-window splitting.
	text := strings.Repeat("x", 55)
	chunks := c.Split(text)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		overlap := string(prev[len(prev)-5:])
		assert.True(t, strings.HasPrefix(chunks[i], overlap),
			"chunk %d does not carry overlap from its predecessor", i)
	}
}

func TestSplitCoversAllContent(t *testing.T) {
	c, err := New(Config{ChunkSize: 30, ChunkOverlap: 0})
	require.NoError(t, err)

	text := "alpha beta gamma delta epsilon zeta eta theta iota kappa"
	chunks := c.Split(text)

	joined := strings.Join(chunks, " ")
	for _, word := range strings.Fields(text) {
		assert.Contains(t, joined, word)
	}
}
