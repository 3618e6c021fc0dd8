// Package chunk splits extracted ruling text into overlapping word windows.
package chunk

import (
	"strings"
	"time"
)

// DefaultChunkSize is the character budget per chunk (words plus separating spaces).
const DefaultChunkSize = 1000

// DefaultOverlap is the approximate number of trailing characters repeated
// at the start of the next chunk.
const DefaultOverlap = 200

// Metadata carries the structural provenance of a chunk. Every chunk cut
// from the same section or page inherits the same values except
// ParagraphIndex, which preserves document order.
type Metadata struct {
	StructureType  string    `json:"structureType"`
	Section        string    `json:"section"`
	PageNumbers    []int     `json:"pageNumbers"`
	ParagraphIndex int       `json:"paragraphIndex"`
	Court          string    `json:"court"`
	Expediente     string    `json:"expediente"`
	Year           int       `json:"year"`
	PublishDate    time.Time `json:"publishDate"`
}

// Chunk is a bounded slice of document text with its provenance attached.
type Chunk struct {
	Text     string
	Metadata Metadata
}

// Chunker splits text into fixed-size chunks with trailing overlap.
type Chunker struct {
	chunkSize int
	overlap   int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Overlap must stay strictly below the chunk size or chunks stop advancing.
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split cuts text into chunks of roughly chunkSize characters. Words are
// never broken: the buffer is emitted once it reaches the size budget, and
// the next buffer is seeded with enough trailing words to cover the overlap
// budget (overlap divided by the emitted chunk's average word length).
// Empty or whitespace-only input yields no chunks. A single word longer than
// the chunk size is emitted as its own chunk.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	var buf []string
	bufLen := 0

	for _, word := range words {
		buf = append(buf, word)
		bufLen += len(word) + 1 // +1 for the separating space

		if bufLen >= c.chunkSize {
			chunks = append(chunks, strings.Join(buf, " "))

			avgWordLen := bufLen / len(buf)
			overlapWords := c.overlap / avgWordLen
			if overlapWords >= len(buf) {
				overlapWords = len(buf) - 1
			}

			buf = append([]string(nil), buf[len(buf)-overlapWords:]...)
			bufLen = 0
			for _, w := range buf {
				bufLen += len(w) + 1
			}
		}
	}

	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, " "))
	}

	return chunks
}

// SplitWithMetadata chunks text and tags each chunk with meta, assigning
// zero-based paragraph indexes in document order.
func (c *Chunker) SplitWithMetadata(text string, meta Metadata) []Chunk {
	parts := c.Split(text)
	chunks := make([]Chunk, 0, len(parts))
	for i, part := range parts {
		m := meta
		m.ParagraphIndex = i
		chunks = append(chunks, Chunk{Text: part, Metadata: m})
	}
	return chunks
}

// PageRange returns the inclusive page numbers between start and end.
func PageRange(start, end int) []int {
	if end < start {
		return nil
	}
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}
