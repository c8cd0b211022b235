// Package loader turns raw document sources (plain text, Markdown, HTML)
// into the normalized text plus metadata the pipeline ingests. PDF and
// other binary formats are expected to arrive as already-extracted text.
package loader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/docmate-ai/docmate"
)

// Result is the normalized output of a loader: plain text ready for
// chunking, a best-effort title, and source metadata.
type Result struct {
	Title    string
	Text     string
	Metadata map[string]any
}

// Loader extracts normalized text from one source format.
type Loader interface {
	Load(ctx context.Context, r io.Reader) (Result, error)
}

// ForFilename picks a loader from the file extension; unknown extensions
// get the plain text loader.
func ForFilename(name string) Loader {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".md"), strings.HasSuffix(lower, ".markdown"):
		return NewMarkdownLoader()
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return NewHTMLLoader()
	default:
		return NewTextLoader()
	}
}

// TextLoader passes plain text through with line-ending normalization.
type TextLoader struct{}

// NewTextLoader creates a TextLoader.
func NewTextLoader() *TextLoader { return &TextLoader{} }

// Load reads the whole source. Invalid UTF-8 fails with
// ErrInvalidDocument before any indexing work happens.
func (l *TextLoader) Load(ctx context.Context, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("loader: reading source: %w", err)
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("loader: source is not valid UTF-8: %w", docmate.ErrInvalidDocument)
	}

	text := normalize(string(data))
	return Result{
		Title:    firstLine(text),
		Text:     text,
		Metadata: map[string]any{"format": "text"},
	}, nil
}

// normalize unifies line endings and trims trailing whitespace per line.
func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// firstLine returns a truncated first non-empty line as a title guess.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 120 {
			return line[:120]
		}
		return line
	}
	return ""
}
