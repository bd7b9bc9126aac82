// Package markdown serializes wiki pages to and from the front matter document
// format stored in the remote repository, and renders page bodies to HTML.
package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// Document is a page as stored remotely: a YAML header followed by the body.
type Document struct {
	Title    string
	Category string
	Author   string
	Status   string
	Summary  string
	Created  time.Time
	Updated  time.Time
	Tags     []string
	Body     string
}

type header struct {
	Title    *string    `yaml:"title"`
	Category string     `yaml:"category,omitempty"`
	Author   string     `yaml:"author,omitempty"`
	Status   string     `yaml:"status,omitempty"`
	Summary  string     `yaml:"summary,omitempty"`
	Created  *time.Time `yaml:"created,omitempty"`
	Updated  *time.Time `yaml:"updated,omitempty"`
	Tags     []string   `yaml:"tags,omitempty"`
}

// Marshal renders d as "---\n<yaml>---\n\n<body>".
func (d *Document) Marshal() ([]byte, error) {
	title := d.Title
	h := header{
		Title:    &title,
		Category: d.Category,
		Author:   d.Author,
		Status:   d.Status,
		Summary:  d.Summary,
		Tags:     d.Tags,
	}
	if !d.Created.IsZero() {
		c := d.Created
		h.Created = &c
	}
	if !d.Updated.IsZero() {
		u := d.Updated
		h.Updated = &u
	}

	var buf bytes.Buffer
	buf.WriteString(fence + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&h); err != nil {
		return nil, fmt.Errorf("markdown: encode header: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("markdown: encode header: %w", err)
	}
	buf.WriteString(fence + "\n\n")
	buf.WriteString(d.Body)
	return buf.Bytes(), nil
}

// Parse splits raw into header fields and body. Content without a header, or
// with a header that is not valid YAML, is returned entirely as body.
func Parse(raw []byte) (*Document, error) {
	block, body, ok := splitFrontmatter(raw)
	if !ok {
		return &Document{Title: deriveTitle("", string(raw)), Body: string(raw)}, nil
	}

	var h header
	if err := yaml.Unmarshal(block, &h); err != nil {
		return &Document{Title: deriveTitle("", string(raw)), Body: string(raw)}, nil
	}

	// The body's first heading stands in only when the header has no title key.
	title := deriveTitle("", body)
	if h.Title != nil {
		title = *h.Title
	}
	d := &Document{
		Title:    title,
		Category: h.Category,
		Author:   h.Author,
		Status:   h.Status,
		Summary:  h.Summary,
		Tags:     h.Tags,
		Body:     body,
	}
	if h.Created != nil {
		d.Created = *h.Created
	}
	if h.Updated != nil {
		d.Updated = *h.Updated
	}
	return d, nil
}

// splitFrontmatter returns the YAML block between the leading fences and the
// body after the closing fence. One blank separator line after the closing
// fence belongs to the format, not to the body.
func splitFrontmatter(raw []byte) ([]byte, string, bool) {
	if !bytes.HasPrefix(raw, []byte(fence+"\n")) && !bytes.HasPrefix(raw, []byte(fence+"\r\n")) {
		return nil, "", false
	}
	start := bytes.IndexByte(raw, '\n') + 1

	pos := start
	for pos <= len(raw) {
		end := bytes.IndexByte(raw[pos:], '\n')
		line := raw[pos:]
		next := len(raw)
		if end >= 0 {
			line = raw[pos : pos+end]
			next = pos + end + 1
		}
		if string(bytes.TrimRight(line, "\r")) == fence {
			body := raw[next:]
			switch {
			case bytes.HasPrefix(body, []byte("\r\n")):
				body = body[2:]
			case bytes.HasPrefix(body, []byte("\n")):
				body = body[1:]
			}
			return raw[start:pos], string(body), true
		}
		if end < 0 {
			break
		}
		pos = next
	}
	return nil, "", false
}

// deriveTitle returns title if set, otherwise the first H1 heading of body.
func deriveTitle(title, body string) string {
	if title != "" {
		return title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
