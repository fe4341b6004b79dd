package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crosspost/internal/eventbus"
	"crosspost/internal/markdown"
	"crosspost/internal/poster"
	"crosspost/internal/queue"
	logx "crosspost/pkg/logx"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	slugs []string
}

func (r *recordingDispatcher) PostAll(ctx context.Context, post *markdown.Post) []poster.Result {
	r.mu.Lock()
	r.slugs = append(r.slugs, post.Slug)
	r.mu.Unlock()
	return []poster.Result{{Platform: "devto", Success: true}}
}

func (r *recordingDispatcher) Post(ctx context.Context, platformName string, post *markdown.Post) poster.Result {
	return poster.Result{Platform: platformName, Success: true}
}

func (r *recordingDispatcher) Update(ctx context.Context, platformName, platformID string, post *markdown.Post) poster.Result {
	return poster.Result{Platform: platformName, Success: true}
}

func (r *recordingDispatcher) Delete(ctx context.Context, platformName, platformID string) poster.Result {
	return poster.Result{Platform: platformName, Success: true}
}

func (r *recordingDispatcher) posted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.slugs...)
}

func fastQueueConfig() queue.Config {
	return queue.Config{Concurrency: 2, MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func startWatcher(t *testing.T, dir string, d queue.Dispatcher) *Service {
	t.Helper()
	w, err := New(Config{Dir: dir, Debounce: 20 * time.Millisecond}, fastQueueConfig(), d, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func waitFor(t *testing.T, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestNewPublishedFileGetsQueued(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	startWatcher(t, dir, d)

	content := "---\npublished: true\nslug: fresh-post\n---\n# Fresh\n"
	if err := os.WriteFile(filepath.Join(dir, "fresh.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if !waitFor(t, func() bool { return len(d.posted()) == 1 }) {
		t.Fatalf("file change never posted; posted=%v", d.posted())
	}
	if got := d.posted()[0]; got != "fresh-post" {
		t.Fatalf("posted slug = %q", got)
	}
}

func TestDraftChangesIgnored(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	startWatcher(t, dir, d)

	draft := "---\npublished: false\n---\n# Draft\n"
	if err := os.WriteFile(filepath.Join(dir, "draft.md"), []byte(draft), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not markdown"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := d.posted(); len(got) != 0 {
		t.Fatalf("draft or non-markdown file posted: %v", got)
	}
}

func TestRapidWritesCoalesce(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	startWatcher(t, dir, d)

	path := filepath.Join(dir, "burst.md")
	content := "---\npublished: true\nslug: burst\n---\nbody\n"
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if !waitFor(t, func() bool { return len(d.posted()) >= 1 }) {
		t.Fatal("burst never posted")
	}
	// Settle, then confirm the burst collapsed into a single job.
	time.Sleep(300 * time.Millisecond)
	if got := d.posted(); len(got) != 1 {
		t.Fatalf("burst produced %d posts, want 1", len(got))
	}
}

func TestUnparseableFileLogged(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	startWatcher(t, dir, d)

	bad := "---\ntitle: x\nno closing delimiter"
	if err := os.WriteFile(filepath.Join(dir, "broken.md"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := d.posted(); len(got) != 0 {
		t.Fatalf("broken file posted: %v", got)
	}
}

func TestDelimiterOnlyFileIgnored(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	startWatcher(t, dir, d)

	// A file holding just a horizontal rule parses to a frontmatter-free
	// draft; it must be skipped, not crash the watcher.
	if err := os.WriteFile(filepath.Join(dir, "rule.md"), []byte("---"), 0o644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(300 * time.Millisecond)
	if got := d.posted(); len(got) != 0 {
		t.Fatalf("delimiter-only file posted: %v", got)
	}

	// The watcher is still alive.
	content := "---\npublished: true\nslug: still-alive\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "alive.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return len(d.posted()) == 1 }) {
		t.Fatalf("watcher dead after delimiter-only file; posted=%v", d.posted())
	}
}

func TestStopWaitsForInFlightHandler(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := func(path string) (*markdown.Document, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return markdown.ParseFile(path)
	}
	w, err := New(Config{Dir: dir, Debounce: 10 * time.Millisecond}, fastQueueConfig(), d, logx.Nop(), eventbus.New(), WithParseFunc(slow))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := "---\npublished: true\nslug: late\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "late.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	<-entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop never returned")
	}

	// The handler finished before the queue stopped, so the queue must not
	// have been restarted behind Stop's back.
	if st := w.QueueStatus(); st.Processing {
		t.Fatalf("queue processing after Stop: %+v", st)
	}
}

func TestQueueStatusAndClear(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	w := startWatcher(t, dir, d)

	st := w.QueueStatus()
	if st.TotalJobs != 0 {
		t.Fatalf("fresh watcher queue status = %+v", st)
	}

	content := "---\npublished: true\n---\nbody\n"
	if err := os.WriteFile(filepath.Join(dir, "one.md"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if !waitFor(t, func() bool { return w.QueueStatus().CompletedJobs == 1 }) {
		t.Fatalf("job never completed: %+v", w.QueueStatus())
	}

	w.ClearQueue()
	if st := w.QueueStatus(); st.TotalJobs != 0 {
		t.Fatalf("status after clear = %+v", st)
	}
}

func TestStopIsIdempotentEnough(t *testing.T) {
	dir := t.TempDir()
	d := &recordingDispatcher{}
	w, err := New(Config{Dir: dir, Debounce: 10 * time.Millisecond}, fastQueueConfig(), d, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	w.Stop()

	// Writes after stop must not panic or post.
	if err := os.WriteFile(filepath.Join(dir, "after.md"), []byte("---\npublished: true\n---\nx"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if got := d.posted(); len(got) != 0 {
		t.Fatalf("posted after stop: %v", got)
	}
}

func TestWatchMissingDirectoryFails(t *testing.T) {
	_, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, fastQueueConfig(), &recordingDispatcher{}, logx.Nop(), eventbus.New())
	if err == nil {
		t.Fatal("watching a missing directory succeeded")
	}
}
