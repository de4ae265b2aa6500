// Package render turns content pages into HTML and XML responses.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"golang.org/x/net/html"

	"toomanypages/pkg/plugin"
)

const baseURLPlaceholder = "%base_url%"

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

// Markdown converts a page body to HTML after substituting %base_url%.
func Markdown(src []byte, baseURL string) ([]byte, error) {
	src = bytes.ReplaceAll(src, []byte(baseURLPlaceholder), []byte(strings.TrimSuffix(baseURL, "/")))

	var buf bytes.Buffer
	if err := markdown.Convert(src, &buf); err != nil {
		return nil, fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.Bytes(), nil
}

// Excerpt returns the text of the first paragraph in an HTML fragment,
// cut at a word boundary to at most max runes.
func Excerpt(fragment []byte, max int) (string, error) {
	doc, err := html.Parse(bytes.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	p := findElement(doc, "p")
	if p == nil {
		return "", nil
	}

	var sb strings.Builder
	collectText(p, &sb)
	text := strings.Join(strings.Fields(sb.String()), " ")
	return truncate(text, max), nil
}

// findElement recursively searches for an element with the given tag name
func findElement(node *html.Node, tagName string) *html.Node {
	if node.Type == html.ElementNode && node.Data == tagName {
		return node
	}

	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if result := findElement(child, tagName); result != nil {
			return result
		}
	}

	return nil
}

func collectText(node *html.Node, sb *strings.Builder) {
	if node.Type == html.TextNode {
		sb.WriteString(node.Data)
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}

	cut := max
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + "…"
}

// PageData is what the layout template sees.
type PageData struct {
	SiteTitle   string
	BaseURL     string
	Title       string
	Description string
	Content     template.HTML
	Pages       []plugin.Page
	Previous    *plugin.Page
	Next        *plugin.Page
}

var layout = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{if .Title}}{{.Title}} | {{end}}{{.SiteTitle}}</title>
{{- if .Description}}
<meta name="description" content="{{.Description}}">
{{- end}}
</head>
<body>
{{- if .Pages}}
<nav>
<ul>
{{- range .Pages}}
<li><a href="{{.URL}}">{{if .Title}}{{.Title}}{{else}}{{.ID}}{{end}}</a></li>
{{- end}}
</ul>
</nav>
{{- end}}
<main>
{{.Content}}
</main>
{{- if or .Previous .Next}}
<footer>
{{- with .Previous}}<a rel="prev" href="{{.URL}}">{{.Title}}</a>{{end}}
{{- with .Next}}<a rel="next" href="{{.URL}}">{{.Title}}</a>{{end}}
</footer>
{{- end}}
</body>
</html>
`))

// Page writes a complete HTML document.
func Page(w io.Writer, data PageData) error {
	if err := layout.Execute(w, data); err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	return nil
}

// Sitemap renders pages as a sitemaps.org urlset.
func Sitemap(pages []plugin.Page) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	urlset := doc.CreateElement("urlset")
	urlset.CreateAttr("xmlns", "http://www.sitemaps.org/schemas/sitemap/0.9")

	for _, page := range pages {
		u := urlset.CreateElement("url")
		u.CreateElement("loc").SetText(page.URL)
		if !page.Date.IsZero() {
			u.CreateElement("lastmod").SetText(page.Date.Format("2006-01-02"))
		}
	}

	doc.Indent(2)
	output, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize XML: %w", err)
	}
	return output, nil
}
