// Package markdown parses markdown articles with YAML frontmatter into the
// Post value consumed by the posting pipeline.
package markdown

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// PublishStatus is the requested publication state of a post.
type PublishStatus string

const (
	StatusDraft     PublishStatus = "draft"
	StatusPublished PublishStatus = "published"
)

// Post is the platform-independent article value.
//
// It is constructed once from a parsed document and never mutated by the
// orchestration layers.
type Post struct {
	Title        string
	Content      string // markdown body, frontmatter stripped
	Description  string
	Tags         []string
	Status       PublishStatus
	CanonicalURL string
	CoverImage   string
	PublishedAt  *time.Time

	// Slug identifies the article across runs (sync store key).
	// Taken from frontmatter, falling back to the source filename stem.
	Slug string
}

// Draft reports whether the post should not be published yet.
func (p *Post) Draft() bool { return p.Status != StatusPublished }

// Document is the raw parse result: frontmatter map plus body.
type Document struct {
	Frontmatter map[string]any
	Content     string
	Path        string
}

const frontmatterDelim = "---"

// ParseFile reads and parses a markdown file.
func ParseFile(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// Parse splits the optional leading frontmatter block from the body.
//
// A document without frontmatter is valid: the whole input becomes the body.
func Parse(raw string) (*Document, error) {
	content := strings.ReplaceAll(raw, "\r\n", "\n")
	doc := &Document{Frontmatter: map[string]any{}, Content: content}

	// Only "---\n" opens a frontmatter block. A bare "---" with nothing
	// after it is a horizontal rule, not frontmatter.
	if !strings.HasPrefix(content, frontmatterDelim+"\n") {
		return doc, nil
	}

	rest := content[len(frontmatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontmatterDelim)
	if end < 0 {
		return nil, fmt.Errorf("unterminated frontmatter block")
	}
	head := rest[:end]
	body := rest[end+len(frontmatterDelim)+1:]
	if strings.HasPrefix(body, "\n") {
		body = body[1:]
	}

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(head), &fm); err != nil {
		return nil, fmt.Errorf("frontmatter: %w", err)
	}
	if fm == nil {
		fm = map[string]any{}
	}
	doc.Frontmatter = fm
	doc.Content = body
	return doc, nil
}

// ToPost builds a Post from a parsed document.
//
// Title falls back to the first "# " heading, then the filename.
// An article is a draft unless frontmatter says `published: true`.
func ToPost(doc *Document) *Post {
	fm := doc.Frontmatter

	p := &Post{
		Title:        str(fm["title"]),
		Content:      doc.Content,
		Description:  str(fm["description"]),
		Tags:         strSlice(fm["tags"]),
		CanonicalURL: str(fm["canonical_url"]),
		CoverImage:   str(fm["cover_image"]),
		Slug:         str(fm["slug"]),
		Status:       StatusDraft,
	}

	if b, ok := fm["published"].(bool); ok && b {
		p.Status = StatusPublished
	}
	if s := str(fm["status"]); strings.EqualFold(s, string(StatusPublished)) {
		p.Status = StatusPublished
	}

	if ts := str(fm["date"]); ts != "" {
		if t, err := parseDate(ts); err == nil {
			p.PublishedAt = &t
		}
	}

	if p.Title == "" {
		p.Title = firstHeading(doc.Content)
	}
	if p.Title == "" && doc.Path != "" {
		p.Title = stem(doc.Path)
	}
	if p.Slug == "" && doc.Path != "" {
		p.Slug = slugify(stem(doc.Path))
	}
	if p.Slug == "" {
		p.Slug = slugify(p.Title)
	}
	return p
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func strSlice(v any) []string {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s := str(e); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return x
	case string:
		// Comma-separated tags are common in Dev.to-style frontmatter.
		parts := strings.Split(x, ",")
		out := make([]string, 0, len(parts))
		for _, pt := range parts {
			if s := strings.TrimSpace(pt); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
