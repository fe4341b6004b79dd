// Package poster dispatches posts to the configured platforms.
//
// The Service is built once at startup with its platform clients, sync store
// and rate limits; the queue and batch processor receive it as an injected
// dependency and never construct clients themselves.
package poster

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"crosspost/internal/markdown"
	"crosspost/internal/platform"
	"crosspost/internal/storage"
	logx "crosspost/pkg/logx"
)

// Result is the outcome of one platform call.
type Result struct {
	Platform   string `json:"platform"`
	Action     string `json:"action"` // create | update | delete
	Success    bool   `json:"success"`
	PlatformID string `json:"platform_id,omitempty"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`

	// Err keeps the typed error for retry classification; Error is the
	// serializable message.
	Err error `json:"-"`
}

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

type Service struct {
	clients  []platform.Client
	byName   map[string]platform.Client
	limiters map[string]*rate.Limiter
	store    storage.Store // nil disables sync lookups and history
	log      logx.Logger
}

type Option func(*Service)

// WithStore enables create-vs-update resolution and run history recording.
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

// WithRateLimit caps requests per second against one platform.
func WithRateLimit(platformName string, perSec float64) Option {
	return func(s *Service) {
		if perSec > 0 {
			s.limiters[platformName] = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

func New(clients []platform.Client, opts ...Option) *Service {
	s := &Service{
		clients:  clients,
		byName:   make(map[string]platform.Client, len(clients)),
		limiters: map[string]*rate.Limiter{},
		log:      logx.Nop(),
	}
	for _, c := range clients {
		s.byName[c.Name()] = c
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Platforms returns the configured platform names in dispatch order.
func (s *Service) Platforms() []string {
	names := make([]string, 0, len(s.clients))
	for _, c := range s.clients {
		names = append(names, c.Name())
	}
	return names
}

// PostAll sends the post to every configured platform, one result each.
// A failure against one platform never aborts the others.
func (s *Service) PostAll(ctx context.Context, post *markdown.Post) []Result {
	results := make([]Result, 0, len(s.clients))
	for _, c := range s.clients {
		results = append(results, s.postTo(ctx, c, post))
	}
	return results
}

// Post sends the post to a single platform.
func (s *Service) Post(ctx context.Context, platformName string, post *markdown.Post) Result {
	c, ok := s.byName[platformName]
	if !ok {
		return s.unknown(platformName, ActionCreate)
	}
	return s.postTo(ctx, c, post)
}

// Update pushes changed content to an already-published platform post.
func (s *Service) Update(ctx context.Context, platformName, platformID string, post *markdown.Post) Result {
	c, ok := s.byName[platformName]
	if !ok {
		return s.unknown(platformName, ActionUpdate)
	}
	start := time.Now()
	res := Result{Platform: platformName, Action: ActionUpdate}
	if err := s.wait(ctx, platformName); err != nil {
		return fail(res, err)
	}
	pp, err := c.UpdatePost(ctx, platformID, post)
	if err != nil {
		res = fail(res, err)
	} else {
		res.Success = true
		res.PlatformID = pp.ID
		res.URL = pp.URL
	}
	s.record(ctx, post, res, start)
	return res
}

// Delete removes the platform post.
func (s *Service) Delete(ctx context.Context, platformName, platformID string) Result {
	c, ok := s.byName[platformName]
	if !ok {
		return s.unknown(platformName, ActionDelete)
	}
	start := time.Now()
	res := Result{Platform: platformName, Action: ActionDelete, PlatformID: platformID}
	if err := s.wait(ctx, platformName); err != nil {
		return fail(res, err)
	}
	if err := c.DeletePost(ctx, platformID); err != nil {
		res = fail(res, err)
	} else {
		res.Success = true
	}
	s.record(ctx, nil, res, start)
	return res
}

// postTo resolves create-vs-update via the sync store: a slug already mapped
// to this platform is updated in place instead of duplicated.
func (s *Service) postTo(ctx context.Context, c platform.Client, post *markdown.Post) Result {
	name := c.Name()
	start := time.Now()
	res := Result{Platform: name, Action: ActionCreate}

	if err := s.wait(ctx, name); err != nil {
		return fail(res, err)
	}

	var existing string
	if s.store != nil && post.Slug != "" {
		if m, ok, err := s.store.GetMapping(ctx, post.Slug, name); err != nil {
			s.log.Warn("sync lookup failed", logx.String("slug", post.Slug), logx.String("platform", name), logx.Err(err))
		} else if ok {
			existing = m.PlatformID
		}
	}

	var pp *platform.Post
	var err error
	if existing != "" {
		res.Action = ActionUpdate
		pp, err = c.UpdatePost(ctx, existing, post)
	} else {
		pp, err = c.CreatePost(ctx, post)
	}

	if err != nil {
		res = fail(res, err)
	} else {
		res.Success = true
		res.PlatformID = pp.ID
		res.URL = pp.URL
		if s.store != nil && post.Slug != "" {
			m := storage.Mapping{Slug: post.Slug, Platform: name, PlatformID: pp.ID, URL: pp.URL}
			if perr := s.store.PutMapping(ctx, m); perr != nil {
				s.log.Warn("sync mapping save failed", logx.String("slug", post.Slug), logx.String("platform", name), logx.Err(perr))
			}
		}
	}

	s.record(ctx, post, res, start)
	return res
}

func (s *Service) wait(ctx context.Context, platformName string) error {
	lim := s.limiters[platformName]
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (s *Service) record(ctx context.Context, post *markdown.Post, res Result, start time.Time) {
	if s.store == nil {
		return
	}
	r := storage.RunRecord{
		At:       start,
		Platform: res.Platform,
		Action:   res.Action,
		OK:       res.Success,
		URL:      res.URL,
		Error:    res.Error,
		TookMS:   time.Since(start).Milliseconds(),
	}
	if post != nil {
		r.Slug = post.Slug
	}
	if err := s.store.AppendRun(ctx, r); err != nil {
		s.log.Debug("run history append failed", logx.Err(err))
	}
}

func (s *Service) unknown(platformName, action string) Result {
	err := fmt.Errorf("unknown platform %q", platformName)
	return Result{Platform: platformName, Action: action, Error: err.Error(), Err: err}
}

func fail(res Result, err error) Result {
	res.Success = false
	res.Err = err
	res.Error = err.Error()
	return res
}
