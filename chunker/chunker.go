// Package chunker splits raw document text into overlapping, bounded-size
// chunks with provenance offsets. Window boundaries are snapped to nearby
// sentence or paragraph breaks so passages are rarely cut mid-sentence.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docmate-ai/docmate"
)

// Chunker produces ordered chunks from raw text.
type Chunker struct {
	chunkSize    int
	overlap      int
	minChunkSize int
	snapWindow   int
}

// Option configures the Chunker
type Option func(*Chunker)

// WithChunkSize sets the maximum chunk length in characters
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.chunkSize = size
	}
}

// WithOverlap sets the overlap between consecutive chunks
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

// WithMinChunkSize sets the minimum size below which a non-final chunk is
// merged into its predecessor
func WithMinChunkSize(size int) Option {
	return func(c *Chunker) {
		c.minChunkSize = size
	}
}

// WithSnapWindow sets how far back a window boundary may move to land on a
// sentence or paragraph break
func WithSnapWindow(window int) Option {
	return func(c *Chunker) {
		c.snapWindow = window
	}
}

// New creates a Chunker with the given options.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		chunkSize:    500,
		overlap:      50,
		minChunkSize: 50,
		snapWindow:   100,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", c.chunkSize)
	}
	if c.overlap < 0 || c.overlap >= c.chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got %d", c.overlap)
	}
	if c.snapWindow < 0 || c.snapWindow >= c.chunkSize {
		c.snapWindow = c.chunkSize / 4
	}
	return c, nil
}

// Chunk splits text into ordered chunks for the given document. Empty
// input yields no chunks; input shorter than the chunk size yields exactly
// one. Offsets of consecutive chunks always cover the text without gaps.
func (c *Chunker) Chunk(documentID, text string) ([]docmate.Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("document %s: text is not valid UTF-8: %w",
			documentID, docmate.ErrInvalidDocument)
	}
	if len(strings.TrimSpace(text)) == 0 {
		return nil, nil
	}

	var chunks []docmate.Chunk
	start := 0
	for start < len(text) {
		end := start + c.chunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = c.snapBoundary(text, start, end)
			end = alignToRune(text, start, end)
		}

		chunks = append(chunks, c.newChunk(documentID, len(chunks), text, start, end))

		if end == len(text) {
			break
		}
		next := end - c.overlap
		for next > start && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// Snapping produced a window no larger than the overlap;
			// move forward without overlap to guarantee progress.
			next = end
		}
		start = next
	}

	chunks = c.mergeShort(documentID, text, chunks)
	return chunks, nil
}

// alignToRune moves pos back to the start of the rune it falls inside,
// so byte-offset windows never split a multibyte character. A window that
// would collapse onto start is extended to cover start's whole rune.
func alignToRune(text string, start, pos int) int {
	for pos > start && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	if pos <= start {
		_, size := utf8.DecodeRuneInString(text[start:])
		return start + size
	}
	return pos
}

// snapBoundary moves end back to just after the nearest sentence or
// paragraph break within the snap window, when one exists.
func (c *Chunker) snapBoundary(text string, start, end int) int {
	lo := end - c.snapWindow
	if lo <= start {
		lo = start + 1
	}

	if i := strings.LastIndex(text[lo:end], "\n\n"); i >= 0 {
		return lo + i + 2
	}

	best := -1
	for _, mark := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(text[lo:end], mark); i >= 0 && lo+i+len(mark) > best {
			best = lo + i + len(mark)
		}
	}
	if best > start {
		return best
	}
	return end
}

// mergeShort folds non-final chunks shorter than the minimum into their
// predecessor. A short final chunk is kept as-is: it is the legitimate
// tail of the document. A merged chunk may exceed the window size by at
// most the minimum, which only happens when snapping collapsed a window.
func (c *Chunker) mergeShort(documentID, text string, chunks []docmate.Chunk) []docmate.Chunk {
	if c.minChunkSize <= 0 || len(chunks) < 2 {
		return chunks
	}

	out := chunks[:1]
	for i := 1; i < len(chunks); i++ {
		cur := chunks[i]
		last := i == len(chunks)-1
		prev := &out[len(out)-1]

		if !last && cur.Chars < c.minChunkSize {
			*prev = c.newChunk(documentID, prev.Seq, text, prev.Start, cur.End)
			continue
		}
		out = append(out, cur)
	}

	// Renumber so ids stay dense after merging.
	for i := range out {
		out[i] = c.newChunk(documentID, i, text, out[i].Start, out[i].End)
	}
	return out
}

func (c *Chunker) newChunk(documentID string, seq int, text string, start, end int) docmate.Chunk {
	span := text[start:end]
	return docmate.Chunk{
		ID:         ChunkID(documentID, seq),
		DocumentID: documentID,
		Seq:        seq,
		Text:       span,
		Start:      start,
		End:        end,
		Chars:      len(span),
	}
}

// ChunkID builds the deterministic chunk identifier for a document and
// sequence number. The zero-padded sequence keeps lexicographic order equal
// to positional order, which the index relies on for tie-breaking.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s:%05d", documentID, seq)
}
