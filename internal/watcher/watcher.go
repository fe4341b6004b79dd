// Package watcher bridges filesystem change events for a directory into job
// queue submissions, for auto-post-on-save workflows.
package watcher

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"crosspost/internal/eventbus"
	"crosspost/internal/markdown"
	"crosspost/internal/queue"
	logx "crosspost/pkg/logx"
)

// Config controls the file watcher.
type Config struct {
	Dir string

	// Debounce coalesces bursts of write events for the same file (editors
	// often fire several per save). Default 250ms.
	Debounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 250 * time.Millisecond
	}
	return c
}

// Service owns an fsnotify watch and an internal job queue. New and changed
// markdown files are parsed and, when published, submitted as crosspost jobs.
type Service struct {
	cfg Config
	log logx.Logger
	q   *queue.Service
	w   *fsnotify.Watcher

	cancel context.CancelFunc
	wg     sync.WaitGroup

	timerMu  sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
	handlers sync.WaitGroup

	parse func(path string) (*markdown.Document, error)
}

type Option func(*Service)

// WithParseFunc substitutes the markdown parser (used by tests).
func WithParseFunc(fn func(path string) (*markdown.Document, error)) Option {
	return func(s *Service) { s.parse = fn }
}

// New starts watching cfg.Dir. The queue is owned by the watcher; qcfg and
// dispatcher configure it, and bus receives its lifecycle events.
func New(cfg Config, qcfg queue.Config, dispatcher queue.Dispatcher, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(cfg.Dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		log:    log,
		q:      queue.New(qcfg, dispatcher, log, bus),
		w:      w,
		cancel: cancel,
		timers: map[string]*time.Timer{},
		parse:  markdown.ParseFile,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	log.Info("watching for markdown changes", logx.String("dir", cfg.Dir))
	return s, nil
}

func (s *Service) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.w.Events:
			if !ok {
				return
			}
			if !isMarkdown(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				s.debounce(ev.Name)
			}
		case err, ok := <-s.w.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.log.Warn("watch error", logx.String("dir", s.cfg.Dir), logx.Err(err))
			}
		}
	}
}

// debounce schedules handleFile after the debounce window, resetting the
// per-path timer on every event so only the last write in a burst counts.
func (s *Service) debounce(path string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[path]; ok {
		t.Stop()
	}
	s.timers[path] = time.AfterFunc(s.cfg.Debounce, func() {
		s.timerMu.Lock()
		delete(s.timers, path)
		if s.stopped {
			s.timerMu.Unlock()
			return
		}
		// Registered under the lock so Stop waits for this handler
		// before it stops the queue.
		s.handlers.Add(1)
		s.timerMu.Unlock()
		defer s.handlers.Done()
		s.handleFile(path)
	})
}

func (s *Service) handleFile(path string) {
	doc, err := s.parse(path)
	if err != nil {
		s.log.Warn("changed file failed to parse", logx.String("file", path), logx.Err(err))
		return
	}
	post := markdown.ToPost(doc)
	if post.Draft() {
		s.log.Debug("draft change ignored", logx.String("file", path))
		return
	}

	id := s.q.Add(queue.JobData{Type: queue.TypeCrosspost, Post: post})
	s.log.Info("file change queued",
		logx.String("file", path),
		logx.String("job", id),
		logx.String("slug", post.Slug),
	)
}

// QueueStatus reports the internal queue's snapshot.
func (s *Service) QueueStatus() queue.QueueStatus { return s.q.Status() }

// ClearQueue discards the internal queue's jobs.
func (s *Service) ClearQueue() { s.q.Clear() }

// Stop closes the filesystem watch and stops the internal queue. Pending
// debounce timers are cancelled; in-flight jobs run to completion.
func (s *Service) Stop() {
	s.cancel()
	_ = s.w.Close()
	s.wg.Wait()

	s.timerMu.Lock()
	s.stopped = true
	for path, t := range s.timers {
		t.Stop()
		delete(s.timers, path)
	}
	s.timerMu.Unlock()

	// A timer callback that fired before stopped was set may still be
	// parsing; let it finish so it cannot submit after the queue stops.
	s.handlers.Wait()

	s.q.Stop()
	s.log.Info("watcher stopped", logx.String("dir", s.cfg.Dir))
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}
