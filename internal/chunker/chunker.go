// Package chunker splits note content into bounded, overlapping text spans
// suitable for embedding.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig indicates invalid chunker configuration.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// defaultSeparators orders split boundaries from most to least structural.
// Markdown headings and blank lines are preferred over sentence and word breaks.
func defaultSeparators() []string {
	return []string{
		"\n## ",
		"\n# ",
		"\n\n",
		"\n",
		". ",
		"! ",
		"? ",
		"; ",
		", ",
		" ",
	}
}

// Config holds chunking parameters.
type Config struct {
	// ChunkSize is the maximum chunk length in runes.
	// Default: 1000
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the number of runes carried over between consecutive
	// chunks when a split is forced. Default: 200
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk overlap cannot be negative", ErrInvalidConfig)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than chunk size %d", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// Chunker splits text recursively at structural boundaries.
//
// Splitting is deterministic: the same input and configuration always produce
// the same chunk sequence.
type Chunker struct {
	config     Config
	separators []string
}

// New creates a Chunker with the given configuration.
func New(config Config) (*Chunker, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Chunker{
		config:     config,
		separators: defaultSeparators(),
	}, nil
}

// Split splits text into an ordered sequence of non-empty chunks, each at
// most ChunkSize runes. Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.splitRecursive(text, c.separators)
	return c.merge(pieces)
}

// splitRecursive splits text with the first separator present in it, recursing
// with finer separators on any piece still larger than the chunk size.
// Separators stay attached to the preceding piece so that concatenating the
// pieces reconstructs the input.
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	if runeLen(text) <= c.config.ChunkSize {
		return []string{text}
	}

	separator := ""
	var finer []string
	for i, sep := range separators {
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	if separator == "" {
		// No structural boundary left; cut at fixed rune windows.
		return c.windowSplit(text)
	}

	var pieces []string
	for _, piece := range splitAfter(text, separator) {
		if piece == "" {
			continue
		}
		if runeLen(piece) > c.config.ChunkSize {
			pieces = append(pieces, c.splitRecursive(piece, finer)...)
		} else {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}

// windowSplit cuts text into ChunkSize rune windows stepping by
// ChunkSize-ChunkOverlap, producing the forced-break overlap directly.
func (c *Chunker) windowSplit(text string) []string {
	runes := []rune(text)
	step := c.config.ChunkSize - c.config.ChunkOverlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.config.ChunkSize
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

// merge accumulates pieces into chunks of at most ChunkSize runes, carrying
// up to ChunkOverlap runes of trailing pieces into the next chunk.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var window []string
	windowLen := 0

	flush := func() {
		chunk := strings.TrimSpace(strings.Join(window, ""))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, piece := range pieces {
		pieceLen := runeLen(piece)

		if windowLen > 0 && windowLen+pieceLen > c.config.ChunkSize {
			flush()
			// Keep at most ChunkOverlap runes of trailing pieces as overlap,
			// and make room for the incoming piece.
			for windowLen > c.config.ChunkOverlap || (windowLen > 0 && windowLen+pieceLen > c.config.ChunkSize) {
				windowLen -= runeLen(window[0])
				window = window[1:]
			}
		}

		window = append(window, piece)
		windowLen += pieceLen
	}

	if windowLen > 0 {
		flush()
	}
	return chunks
}

// splitAfter splits text by sep, keeping sep attached to the preceding piece.
func splitAfter(text, sep string) []string {
	return strings.SplitAfter(text, sep)
}

func runeLen(s string) int {
	return len([]rune(s))
}
