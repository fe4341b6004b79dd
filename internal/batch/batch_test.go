package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crosspost/internal/markdown"
	"crosspost/internal/poster"
	logx "crosspost/pkg/logx"
)

type stubDispatcher struct {
	mu    sync.Mutex
	posts []*markdown.Post
	fn    func(post *markdown.Post) []poster.Result
}

func (s *stubDispatcher) PostAll(ctx context.Context, post *markdown.Post) []poster.Result {
	s.mu.Lock()
	s.posts = append(s.posts, post)
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return []poster.Result{{Platform: "devto", Action: poster.ActionCreate, Success: true, URL: "https://dev.to/p/" + post.Slug}}
	}
	return fn(post)
}

func (s *stubDispatcher) postCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// stubParse maps a path to a published post named after the file.
func stubParse(path string) (*markdown.Document, error) {
	return &markdown.Document{
		Frontmatter: map[string]any{"title": path, "published": true},
		Content:     "body of " + path,
		Path:        path,
	}, nil
}

func TestResultsKeepInputOrder(t *testing.T) {
	// Later files finish first: the first file sleeps longest.
	delays := map[string]time.Duration{
		"a.md": 60 * time.Millisecond,
		"b.md": 30 * time.Millisecond,
		"c.md": 0,
	}
	d := &stubDispatcher{fn: func(post *markdown.Post) []poster.Result {
		time.Sleep(delays[post.Title])
		return []poster.Result{{Platform: "devto", Success: true, URL: "https://dev.to/p/" + post.Title}}
	}}

	p := New(Config{Concurrency: 3}, d, logx.Nop(), WithParseFunc(stubParse))
	results := p.ProcessFiles(context.Background(), []string{"a.md", "b.md", "c.md"})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"a.md", "b.md", "c.md"} {
		if results[i].File != want {
			t.Errorf("results[%d].File = %q, want %q", i, results[i].File, want)
		}
	}
}

func TestOneBadFileDoesNotAbortTheRest(t *testing.T) {
	parse := func(path string) (*markdown.Document, error) {
		if path == "b.md" {
			return nil, errors.New("unreadable frontmatter")
		}
		return stubParse(path)
	}
	d := &stubDispatcher{}

	p := New(Config{Concurrency: 2}, d, logx.Nop(), WithParseFunc(parse))
	results := p.ProcessFiles(context.Background(), []string{"a.md", "b.md", "c.md"})

	if !results[0].Success || !results[2].Success {
		t.Fatalf("healthy files failed: %+v", results)
	}
	if results[1].Success {
		t.Fatal("broken file reported success")
	}
	if !strings.Contains(results[1].Error, "unreadable frontmatter") {
		t.Fatalf("results[1].Error = %q", results[1].Error)
	}
	if d.postCount() != 2 {
		t.Fatalf("dispatcher called %d times, want 2", d.postCount())
	}
}

func TestDraftsSkippedWithoutPlatformCalls(t *testing.T) {
	parse := func(path string) (*markdown.Document, error) {
		doc, _ := stubParse(path)
		if path == "draft.md" {
			doc.Frontmatter["published"] = false
		}
		return doc, nil
	}
	d := &stubDispatcher{}

	p := New(Config{Concurrency: 2, SkipDrafts: true}, d, logx.Nop(), WithParseFunc(parse))
	results := p.ProcessFiles(context.Background(), []string{"live.md", "draft.md"})

	if !results[1].Skipped() {
		t.Fatalf("draft not skipped: %+v", results[1])
	}
	if !results[1].Success || results[1].Error != SkippedDraft {
		t.Fatalf("skipped draft should be Success with marker error, got %+v", results[1])
	}
	if results[0].Skipped() {
		t.Fatal("published file misreported as skipped")
	}
	if d.postCount() != 1 {
		t.Fatalf("dispatcher called %d times, want 1", d.postCount())
	}
}

func TestDraftsPostedWhenSkipDisabled(t *testing.T) {
	parse := func(path string) (*markdown.Document, error) {
		doc, _ := stubParse(path)
		doc.Frontmatter["published"] = false
		return doc, nil
	}
	d := &stubDispatcher{}

	p := New(Config{Concurrency: 1}, d, logx.Nop(), WithParseFunc(parse))
	p.ProcessFiles(context.Background(), []string{"draft.md"})

	if d.postCount() != 1 {
		t.Fatalf("dispatcher called %d times, want 1", d.postCount())
	}
}

func TestConcurrencyBounded(t *testing.T) {
	const bound = 2
	var inFlight, peak atomic.Int64
	d := &stubDispatcher{fn: func(post *markdown.Post) []poster.Result {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return []poster.Result{{Platform: "devto", Success: true}}
	}}

	p := New(Config{Concurrency: bound}, d, logx.Nop(), WithParseFunc(stubParse))
	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("f%d.md", i)
	}
	p.ProcessFiles(context.Background(), paths)

	if got := peak.Load(); got > bound {
		t.Fatalf("observed %d concurrent files, bound is %d", got, bound)
	}
}

func TestPartialPlatformFailureIsFileFailure(t *testing.T) {
	d := &stubDispatcher{fn: func(post *markdown.Post) []poster.Result {
		return []poster.Result{
			{Platform: "devto", Success: true, URL: "https://dev.to/p/x"},
			{Platform: "hashnode", Success: false, Error: "hashnode: boom"},
		}
	}}

	p := New(Config{Concurrency: 1}, d, logx.Nop(), WithParseFunc(stubParse))
	results := p.ProcessFiles(context.Background(), []string{"a.md"})

	if results[0].Success {
		t.Fatal("file with a failing platform reported success")
	}
	if results[0].Error != "hashnode: boom" {
		t.Fatalf("Error = %q", results[0].Error)
	}
	if len(results[0].Results) != 2 {
		t.Fatalf("per-platform results missing: %+v", results[0].Results)
	}
}

func TestPanicInOneFileIsContained(t *testing.T) {
	d := &stubDispatcher{fn: func(post *markdown.Post) []poster.Result {
		if post.Title == "bad.md" {
			panic("handler exploded")
		}
		return []poster.Result{{Platform: "devto", Success: true}}
	}}

	p := New(Config{Concurrency: 2}, d, logx.Nop(), WithParseFunc(stubParse))
	results := p.ProcessFiles(context.Background(), []string{"ok.md", "bad.md"})

	if !results[0].Success {
		t.Fatal("sibling of a panicking file failed")
	}
	if results[1].Success || !strings.Contains(results[1].Error, "panic") {
		t.Fatalf("panic not captured as failure: %+v", results[1])
	}
}

func TestCancelledContextStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &stubDispatcher{}
	p := New(Config{Concurrency: 1}, d, logx.Nop(), WithParseFunc(stubParse))
	results := p.ProcessFiles(ctx, []string{"a.md", "b.md"})

	// Every file still gets a result; none may hang.
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}
