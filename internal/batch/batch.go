// Package batch processes a fixed list of markdown files through
// parse -> cross-post with bounded concurrency. It is the one-shot sibling of
// the job queue: no retry, no state across runs.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crosspost/internal/limiter"
	"crosspost/internal/markdown"
	"crosspost/internal/poster"
	logx "crosspost/pkg/logx"
)

// SkippedDraft is the Error value on a draft that was intentionally not
// posted. The result still counts as a success; the error string is how
// callers tell "skipped" apart from "posted".
const SkippedDraft = "Skipped draft"

// Config controls a batch run.
type Config struct {
	// Concurrency bounds simultaneously processed files.
	Concurrency int

	// Delay is an extra pause a file holds its slot after finishing. With
	// Concurrency=3 and Delay=1s, up to three files sit in their delay
	// window at once.
	Delay time.Duration

	// SkipDrafts short-circuits unpublished posts without platform calls.
	SkipDrafts bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	return c
}

// Result is the outcome for one input file.
type Result struct {
	File      string          `json:"file"`
	Results   []poster.Result `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	Success   bool            `json:"success"`
	Duration  time.Duration   `json:"duration"`
	Timestamp time.Time       `json:"timestamp"`
}

// Skipped reports whether the file was an intentionally skipped draft.
func (r Result) Skipped() bool { return r.Success && r.Error == SkippedDraft }

// Dispatcher is the slice of the posting capability the processor needs.
type Dispatcher interface {
	PostAll(ctx context.Context, post *markdown.Post) []poster.Result
}

type Processor struct {
	cfg        Config
	dispatcher Dispatcher
	log        logx.Logger
	lim        *limiter.Limiter
	parse      func(path string) (*markdown.Document, error)
}

type Option func(*Processor)

// WithParseFunc substitutes the markdown parser (used by tests).
func WithParseFunc(fn func(path string) (*markdown.Document, error)) Option {
	return func(p *Processor) { p.parse = fn }
}

func New(cfg Config, dispatcher Dispatcher, log logx.Logger, opts ...Option) *Processor {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	p := &Processor{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		lim:        limiter.New(cfg.Concurrency),
		parse:      markdown.ParseFile,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessFiles runs every path through the pipeline and returns one Result
// per path, output index matching input index regardless of completion
// order. A single file's failure never affects its siblings or the call.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string) []Result {
	results := make([]Result, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			if err := p.lim.Acquire(ctx); err != nil {
				results[i] = Result{File: path, Error: err.Error(), Timestamp: time.Now()}
				return
			}
			defer p.lim.Release()

			results[i] = p.processOne(ctx, path)

			// The inter-request delay occupies the slot so overall request
			// pacing scales with concurrency, not with file count.
			if p.cfg.Delay > 0 {
				select {
				case <-ctx.Done():
				case <-time.After(p.cfg.Delay):
				}
			}
		}(i, path)
	}
	wg.Wait()

	ok, failed, skipped := 0, 0, 0
	for _, r := range results {
		switch {
		case r.Skipped():
			skipped++
		case r.Success:
			ok++
		default:
			failed++
		}
	}
	p.log.Info("batch finished",
		logx.Int("files", len(paths)),
		logx.Int("ok", ok),
		logx.Int("failed", failed),
		logx.Int("skipped", skipped),
	)
	return results
}

func (p *Processor) processOne(ctx context.Context, path string) (res Result) {
	start := time.Now()
	res = Result{File: path, Timestamp: start}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
	}()

	doc, err := p.parse(path)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	post := markdown.ToPost(doc)

	if p.cfg.SkipDrafts && post.Draft() {
		p.log.Debug("draft skipped", logx.String("file", path))
		res.Success = true
		res.Error = SkippedDraft
		return res
	}

	platformResults := p.dispatcher.PostAll(ctx, post)
	res.Results = platformResults

	succeeded, failed := 0, 0
	var firstErr string
	for _, pr := range platformResults {
		if pr.Success {
			succeeded++
		} else {
			failed++
			if firstErr == "" {
				firstErr = pr.Error
			}
		}
	}
	res.Success = succeeded > 0 && failed == 0
	if !res.Success && firstErr != "" {
		res.Error = firstErr
	}
	return res
}
