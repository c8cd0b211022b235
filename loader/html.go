package loader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/docmate-ai/docmate"
)

// HTMLLoader sanitizes HTML and extracts visible text. Scripts, styles
// and active content are stripped before extraction.
type HTMLLoader struct {
	policy *bluemonday.Policy
}

// NewHTMLLoader creates an HTMLLoader with the UGC sanitization policy.
func NewHTMLLoader() *HTMLLoader {
	return &HTMLLoader{policy: bluemonday.UGCPolicy()}
}

// Load extracts normalized text from the HTML source.
func (l *HTMLLoader) Load(ctx context.Context, r io.Reader) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("loader: reading html source: %w", err)
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("loader: html source is not valid UTF-8: %w", docmate.ErrInvalidDocument)
	}
	res, err := l.load(ctx, data)
	if err != nil {
		return Result{}, err
	}
	res.Metadata["format"] = "html"
	return res, nil
}

func (l *HTMLLoader) load(ctx context.Context, raw []byte) (Result, error) {
	// The sanitizer drops head elements, so pull the title from the raw
	// document first.
	var title string
	if rawDoc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw)); err == nil {
		title = strings.TrimSpace(rawDoc.Find("title").First().Text())
		if title == "" {
			title = strings.TrimSpace(rawDoc.Find("h1").First().Text())
		}
	}

	// Sanitize before extraction so script/style bodies and active
	// content never reach the text.
	clean := l.policy.SanitizeBytes(raw)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(clean))
	if err != nil {
		return Result{}, fmt.Errorf("loader: parsing html: %w", err)
	}

	// Block-level elements become paragraphs so chunk boundary snapping
	// has breaks to work with.
	var sb strings.Builder
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, blockquote, pre").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		// Nested blocks (li inside li, p inside blockquote) repeat
		// their text at the parent; skip parents of matched blocks.
		if sel.Find("p, li").Length() > 0 {
			return
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	})

	text := normalize(sb.String())
	if text == "" {
		// Fallback for fragment HTML with no block structure.
		text = normalize(doc.Text())
	}

	if title == "" {
		title = firstLine(text)
	}
	return Result{
		Title:    title,
		Text:     text,
		Metadata: map[string]any{},
	}, nil
}
