package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var renderer = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a Markdown body to HTML for the page's content_html cache.
func RenderHTML(body string) (string, error) {
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("markdown: render: %w", err)
	}
	return buf.String(), nil
}
