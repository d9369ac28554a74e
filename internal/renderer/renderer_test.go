package renderer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHeading(t *testing.T) {
	r := New(Options{Highlight: true})

	out, err := r.Render([]byte("# Hello\n\nSome *text*."), "README.md", ThemeDark)
	require.NoError(t, err)

	page := string(out)
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, `<h1 id="hello">Hello</h1>`)
	assert.Contains(t, page, "<em>text</em>")
	assert.Contains(t, page, "<title>README.md</title>")
	assert.Contains(t, page, `class="theme-dark"`)
	assert.Contains(t, page, `href="/meread.css"`)
}

func TestRenderIsDeterministic(t *testing.T) {
	r := New(Options{Highlight: true})
	src := []byte("# Title\n\n```go\nfunc main() {}\n```\n")

	first, err := r.Render(src, "doc", ThemeLight)
	require.NoError(t, err)
	second, err := r.Render(src, "doc", ThemeLight)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderExtensions(t *testing.T) {
	r := New(Options{Highlight: true})

	testCases := []struct {
		name     string
		source   string
		contains string
	}{
		{"table", "| a | b |\n|---|---|\n| 1 | 2 |\n", "<table>"},
		{"strikethrough", "~~gone~~", "<del>gone</del>"},
		{"autolink", "see https://example.com", `<a href="https://example.com">`},
		{"task list", "- [x] done\n", `type="checkbox"`},
		{"footnote", "text[^1]\n\n[^1]: note\n", "footnote"},
		{"raw html", "<div class=\"note\">raw</div>\n", `<div class="note">raw</div>`},
		{"highlighted code", "```go\npackage main\n```\n", "chroma"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := r.Render([]byte(tc.source), "doc", ThemeDark)
			require.NoError(t, err)
			assert.Contains(t, string(out), tc.contains)
		})
	}
}

func TestRenderHighlightCSSFollowsTheme(t *testing.T) {
	r := New(Options{Highlight: true})

	dark, err := r.Render([]byte("x"), "doc", ThemeDark)
	require.NoError(t, err)
	light, err := r.Render([]byte("x"), "doc", ThemeLight)
	require.NoError(t, err)

	assert.Contains(t, string(dark), "<style>")
	assert.NotEqual(t, string(dark), string(light))

	plain, err := New(Options{}).Render([]byte("x"), "doc", ThemeDark)
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "<style>")
}

func TestRenderSanitize(t *testing.T) {
	src := []byte("# Safe\n\n<script>alert(1)</script>\n")

	unsafe, err := New(Options{}).Render(src, "doc", ThemeDark)
	require.NoError(t, err)
	assert.Contains(t, string(unsafe), "alert(1)")

	safe, err := New(Options{Sanitize: true}).Render(src, "doc", ThemeDark)
	require.NoError(t, err)
	assert.NotContains(t, string(safe), "<script>alert(1)</script>")
	assert.Contains(t, string(safe), `<h1 id="safe">Safe</h1>`)
}

func TestRenderFrontMatterTitle(t *testing.T) {
	r := New(Options{})

	src := []byte("---\ntitle: Release <Notes>\n---\n# Body\n")

	out, err := r.Render(src, "", ThemeDark)
	require.NoError(t, err)

	page := string(out)
	assert.Contains(t, page, "<title>Release &lt;Notes&gt;</title>")
	assert.NotContains(t, page, "title: Release")
	assert.Contains(t, page, `<h1 id="body">Body</h1>`)

	// An explicit title wins over the front matter.
	out, err = r.Render(src, "Changelog", ThemeDark)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<title>Changelog</title>")
}

func TestRenderInvalidFrontMatter(t *testing.T) {
	_, err := New(Options{}).Render([]byte("---\ntitle: [unclosed\n---\n# Body\n"), "doc", ThemeDark)
	assert.Error(t, err)
}

func TestSplitFrontMatter(t *testing.T) {
	testCases := []struct {
		name  string
		in    string
		title string
		body  string
	}{
		{"none", "# Hi\n", "", "# Hi\n"},
		{"with title", "---\ntitle: T\n---\nbody\n", "T", "body\n"},
		{"crlf", "---\r\ntitle: T\r\n---\r\nbody\r\n", "T", "body\r\n"},
		{"empty block", "---\n---\nbody\n", "", "body\n"},
		{"unterminated", "---\nnot front matter\n", "", "---\nnot front matter\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			meta, body, err := SplitFrontMatter([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.title, meta.Title)
			assert.Equal(t, tc.body, string(body))
		})
	}
}

func TestOutline(t *testing.T) {
	out, err := New(Options{}).Render([]byte("# Hello\n\n## Part *one*\n\ntext\n\n### Deep\n"), "doc", ThemeDark)
	require.NoError(t, err)

	headings, err := Outline(out)
	require.NoError(t, err)

	require.Len(t, headings, 3)
	assert.Equal(t, Heading{Level: 1, ID: "hello", Text: "Hello"}, headings[0])
	assert.Equal(t, 2, headings[1].Level)
	assert.Equal(t, "Part one", headings[1].Text)
	assert.Equal(t, "deep", headings[2].ID)
}

func TestTheme(t *testing.T) {
	var theme Theme
	assert.Equal(t, "dark", theme.String())
	assert.Equal(t, "theme", theme.Type())

	require.NoError(t, theme.Set("LIGHT"))
	assert.Equal(t, ThemeLight, theme)
	assert.Equal(t, "Light mode", theme.Label())
	assert.Equal(t, "github", theme.HighlightStyle())
	assert.Equal(t, "github-dark", ThemeDark.HighlightStyle())

	assert.Error(t, theme.Set("sepia"))
	assert.Equal(t, ThemeLight, theme)
}
