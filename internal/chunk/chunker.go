// Package chunk splits documents into overlapping fixed-size windows.
//
// Sizes are measured in characters (Unicode code points), so a chunk never
// cuts a multi-byte character in half. Chunk i of a document starts at
// character offset i*(size-overlap); consecutive chunks share exactly
// overlap characters, and the sequence ends with the first chunk that
// reaches the end of the text.
package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Yates-Labs/tfguard/internal/ingest"
)

// DefaultSize is the default number of characters per chunk.
const DefaultSize = 500

// DefaultOverlap is the default number of characters shared by consecutive chunks.
const DefaultOverlap = 50

// ErrInvalidConfig is returned when the size/overlap combination cannot produce chunks.
var ErrInvalidConfig = errors.New("invalid chunker configuration")

// Chunk is a bounded window of a source document.
type Chunk struct {
	Text       string `json:"text"`
	SourcePath string `json:"source_path"`
	Index      int    `json:"sequence_index"`
	Offset     int    `json:"offset"`
	Overlap    int    `json:"overlap_with_previous"`
}

// Chunker splits documents using a fixed window size and overlap.
type Chunker struct {
	size    int
	overlap int
}

// New creates a chunker. Overlap must be non-negative and smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be smaller than size %d", ErrInvalidConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the maximum chunk length in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive chunks.
func (c *Chunker) Overlap() int { return c.overlap }

// Split splits a document into an ordered sequence of chunks.
// A document no longer than the chunk size yields exactly one chunk holding the whole text.
func (c *Chunker) Split(doc ingest.Document) []Chunk {
	runes := []rune(doc.Text)
	n := len(runes)

	if n <= c.size {
		return []Chunk{{
			Text:       doc.Text,
			SourcePath: doc.SourcePath,
		}}
	}

	step := c.size - c.overlap
	chunks := make([]Chunk, 0, (n-c.overlap+step-1)/step)

	prevEnd := 0
	for start := 0; ; start += step {
		end := start + c.size
		if end > n {
			end = n
		}

		overlap := 0
		if start > 0 {
			overlap = prevEnd - start
		}

		chunks = append(chunks, Chunk{
			Text:       string(runes[start:end]),
			SourcePath: doc.SourcePath,
			Index:      len(chunks),
			Offset:     start,
			Overlap:    overlap,
		})

		if end == n {
			break
		}
		prevEnd = end
	}

	return chunks
}

// SplitAll splits every document, keeping document order.
func (c *Chunker) SplitAll(docs []ingest.Document) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, c.Split(doc)...)
	}
	return chunks
}

// Reassemble rebuilds the original text of one document from its chunks
// by dropping the declared overlap of every chunk after the first.
func Reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		runes := []rune(ch.Text)
		if ch.Overlap > len(runes) {
			continue
		}
		b.WriteString(string(runes[ch.Overlap:]))
	}
	return b.String()
}
