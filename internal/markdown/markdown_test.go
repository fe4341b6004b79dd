package markdown

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseSplitsFrontmatterAndBody(t *testing.T) {
	raw := `---
title: Hello World
published: true
tags:
  - go
  - testing
---

# Heading

Body text.
`
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := doc.Frontmatter["title"]; got != "Hello World" {
		t.Errorf("title = %v", got)
	}
	if !strings.HasPrefix(doc.Content, "\n# Heading") {
		t.Errorf("body = %q", doc.Content)
	}
	if strings.Contains(doc.Content, "published:") {
		t.Error("frontmatter leaked into body")
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	raw := "# Just a heading\n\nNo frontmatter here.\n"
	doc, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Frontmatter) != 0 {
		t.Errorf("frontmatter = %v, want empty", doc.Frontmatter)
	}
	if doc.Content != raw {
		t.Errorf("body altered: %q", doc.Content)
	}
}

func TestParseDelimiterOnlyDocumentIsBody(t *testing.T) {
	// "---" with nothing after it is a horizontal rule. It must come back
	// as a frontmatter-free body, not panic or error.
	cases := []string{"---", "--- ", "---x\nbody\n"}
	for _, raw := range cases {
		doc, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if len(doc.Frontmatter) != 0 {
			t.Errorf("Parse(%q): frontmatter = %v, want empty", raw, doc.Frontmatter)
		}
		if doc.Content != raw {
			t.Errorf("Parse(%q): body = %q", raw, doc.Content)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unterminated frontmatter", "---\ntitle: x\nno closing delim"},
		{"invalid yaml", "---\ntitle: [unclosed\n---\nbody"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.raw); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseNormalizesCRLF(t *testing.T) {
	doc, err := Parse("---\r\ntitle: x\r\n---\r\nbody\r\n")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Frontmatter["title"] != "x" {
		t.Errorf("title = %v", doc.Frontmatter["title"])
	}
}

func TestToPostFields(t *testing.T) {
	doc, err := Parse(`---
title: My Post
description: A fine article
published: true
tags: go, cli, testing
canonical_url: https://example.com/my-post
cover_image: https://example.com/cover.png
slug: my-post
date: 2026-01-15
---
body
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := ToPost(doc)

	if p.Title != "My Post" || p.Description != "A fine article" {
		t.Errorf("title/description = %q/%q", p.Title, p.Description)
	}
	if p.Draft() {
		t.Error("published post reported as draft")
	}
	if len(p.Tags) != 3 || p.Tags[0] != "go" || p.Tags[2] != "testing" {
		t.Errorf("tags = %v", p.Tags)
	}
	if p.CanonicalURL != "https://example.com/my-post" {
		t.Errorf("canonical = %q", p.CanonicalURL)
	}
	if p.Slug != "my-post" {
		t.Errorf("slug = %q", p.Slug)
	}
	if p.PublishedAt == nil || !p.PublishedAt.Equal(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("published_at = %v", p.PublishedAt)
	}
}

func TestToPostDraftByDefault(t *testing.T) {
	doc, _ := Parse("---\ntitle: x\n---\nbody")
	if p := ToPost(doc); !p.Draft() {
		t.Error("post without published flag must be a draft")
	}

	doc, _ = Parse("---\ntitle: x\nstatus: published\n---\nbody")
	if p := ToPost(doc); p.Draft() {
		t.Error("status: published not honored")
	}

	doc, _ = Parse("---\ntitle: x\npublished: false\n---\nbody")
	if p := ToPost(doc); !p.Draft() {
		t.Error("published: false treated as published")
	}
}

func TestTitleAndSlugFallbacks(t *testing.T) {
	// Title from first heading.
	doc, _ := Parse("# Inferred Title\n\nbody")
	doc.Path = "/posts/some-file.md"
	p := ToPost(doc)
	if p.Title != "Inferred Title" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Slug != "some-file" {
		t.Errorf("slug = %q", p.Slug)
	}

	// Title from filename when there is no heading either.
	doc, _ = Parse("plain body, no heading")
	doc.Path = "/posts/writing-good-tests.md"
	p = ToPost(doc)
	if p.Title != "writing-good-tests" {
		t.Errorf("title = %q", p.Title)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Hello World", "hello-world"},
		{"  Already-Slugged  ", "already-slugged"},
		{"Go 1.24 Is Out!", "go-1-24-is-out"},
		{"---", ""},
		{"CamelCase AND spaces", "camelcase-and-spaces"},
	}
	for _, tc := range cases {
		if got := slugify(tc.in); got != tc.want {
			t.Errorf("slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hello-from-disk.md")
	content := "---\npublished: true\n---\n# From Disk\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if doc.Path != path {
		t.Errorf("path = %q", doc.Path)
	}
	p := ToPost(doc)
	if p.Title != "From Disk" || p.Slug != "hello-from-disk" {
		t.Errorf("title/slug = %q/%q", p.Title, p.Slug)
	}

	if _, err := ParseFile(filepath.Join(dir, "missing.md")); err == nil {
		t.Fatal("reading a missing file succeeded")
	}
}
