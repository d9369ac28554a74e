package renderer

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

// StylesheetPath is where the embedded page stylesheet is served.
const StylesheetPath = "/meread.css"

// PageData is the input of the page layout.
type PageData struct {
	Title        string
	Theme        Theme
	HighlightCSS string
	Content      string
}

const pageLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="color-scheme" content="{{.Theme}}">
<title>{{.Title}}</title>
<link rel="icon" href="/favicon.svg" type="image/svg+xml">
<link rel="stylesheet" href="{{.Stylesheet}}">
{{- with .HighlightCSS}}
<style>
{{.}}</style>
{{- end}}
</head>
<body class="theme-{{.Theme}}">
<article class="markdown-body">
{{.Content}}</article>
</body>
</html>
`

var pageTemplate = template.Must(template.New("page").Parse(pageLayout))

// pageView is PageData with the trusted fragments typed for html/template.
type pageView struct {
	Title        string
	Theme        string
	Stylesheet   string
	HighlightCSS template.CSS
	Content      template.HTML
}

// Page lays out a rendered document as a standalone HTML page.
func Page(data PageData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		theme := data.Theme
		if theme == "" {
			theme = ThemeDark
		}
		return pageTemplate.Execute(w, pageView{
			Title:        data.Title,
			Theme:        string(theme),
			Stylesheet:   StylesheetPath,
			HighlightCSS: template.CSS(data.HighlightCSS),
			Content:      template.HTML(data.Content),
		})
	})
}
