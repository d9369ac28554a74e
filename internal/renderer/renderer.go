// Package renderer turns a markdown document into a complete HTML page.
//
// Markdown is converted with goldmark using the GitHub flavoured extensions,
// footnotes, emoji shortcodes and automatic heading IDs. Fenced code blocks
// are highlighted with chroma using class names so the stylesheet for the
// selected theme can be embedded in the page head. The result is wrapped in
// a page layout built as a templ component.
//
// Rendering is a pure function of its inputs: the same source, title and
// theme always produce the same bytes, and a MarkdownRenderer is safe for
// concurrent use.
package renderer

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	emoji "github.com/yuin/goldmark-emoji"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown source into an HTML page.
type Renderer interface {
	Render(source []byte, title string, theme Theme) ([]byte, error)
}

// Options configures a MarkdownRenderer.
type Options struct {
	// Highlight enables chroma highlighting of fenced code blocks.
	Highlight bool
	// Sanitize runs the converted markdown through a bluemonday UGC policy.
	Sanitize bool
}

// MarkdownRenderer is the goldmark backed Renderer.
type MarkdownRenderer struct {
	md       goldmark.Markdown
	opts     Options
	policy   *bluemonday.Policy
	chromaFm *chromahtml.Formatter
}

// New creates a MarkdownRenderer.
func New(opts Options) *MarkdownRenderer {
	extensions := []goldmark.Extender{
		extension.GFM,
		extension.Footnote,
		emoji.Emoji,
	}

	formatter := chromahtml.New(chromahtml.WithClasses(true))
	if opts.Highlight {
		extensions = append(extensions, highlighting.NewHighlighting(
			highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
		))
	}

	md := goldmark.New(
		goldmark.WithExtensions(extensions...),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	r := &MarkdownRenderer{
		md:       md,
		opts:     opts,
		chromaFm: formatter,
	}

	if opts.Sanitize {
		policy := bluemonday.UGCPolicy()
		policy.AllowAttrs("class", "id").Globally()
		r.policy = policy
	}

	return r
}

// Render implements Renderer. An empty title is taken from the front matter.
func (r *MarkdownRenderer) Render(source []byte, title string, theme Theme) ([]byte, error) {
	meta, body, err := SplitFrontMatter(source)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = meta.Title
	}

	var content bytes.Buffer
	if err := r.md.Convert(body, &content); err != nil {
		return nil, fmt.Errorf("converting markdown: %w", err)
	}

	contentBytes := content.Bytes()
	if r.policy != nil {
		contentBytes = r.policy.SanitizeBytes(contentBytes)
	}

	css, err := r.highlightCSS(theme)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	page := Page(PageData{
		Title:        title,
		Theme:        theme,
		HighlightCSS: css,
		Content:      string(contentBytes),
	})
	if err := page.Render(context.Background(), &out); err != nil {
		return nil, fmt.Errorf("rendering page: %w", err)
	}

	return out.Bytes(), nil
}

func (r *MarkdownRenderer) highlightCSS(theme Theme) (string, error) {
	if !r.opts.Highlight {
		return "", nil
	}

	style := styles.Get(theme.HighlightStyle())
	var css strings.Builder
	if err := r.chromaFm.WriteCSS(&css, style); err != nil {
		return "", fmt.Errorf("writing highlight css: %w", err)
	}
	return css.String(), nil
}
