package loader

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"github.com/docmate-ai/docmate"
)

// MarkdownLoader renders Markdown to HTML and then extracts plain text,
// so formatting characters never leak into chunks or retrieval scores.
type MarkdownLoader struct {
	html *HTMLLoader
}

// NewMarkdownLoader creates a MarkdownLoader.
func NewMarkdownLoader() *MarkdownLoader {
	return &MarkdownLoader{html: NewHTMLLoader()}
}

// Load converts the Markdown source to normalized text. The title comes
// from the first heading when present.
func (l *MarkdownLoader) Load(ctx context.Context, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("loader: reading markdown source: %w", err)
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("loader: markdown source is not valid UTF-8: %w", docmate.ErrInvalidDocument)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(data)

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{Flags: mdhtml.CommonFlags})
	htmlBytes := markdown.Render(doc, renderer)

	res, err := l.html.load(ctx, htmlBytes)
	if err != nil {
		return Result{}, err
	}
	res.Metadata["format"] = "markdown"
	return res, nil
}
