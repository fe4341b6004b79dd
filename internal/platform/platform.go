// Package platform defines the client capability for external blogging
// platforms and carries the concrete Dev.to and Hashnode implementations.
//
// Orchestration layers (queue, batch) only ever see the Client interface;
// they never build HTTP or GraphQL requests themselves.
package platform

import (
	"context"
	"fmt"
	"time"

	"crosspost/internal/markdown"
)

// Post is the platform-side representation of a published article.
type Post struct {
	ID        string
	Title     string
	URL       string
	Published bool
	UpdatedAt time.Time
}

type ListOptions struct {
	Page    int
	PerPage int
}

// Client is the per-platform capability consumed by the orchestration core.
type Client interface {
	Name() string
	Authenticate(ctx context.Context) error
	CreatePost(ctx context.Context, post *markdown.Post) (*Post, error)
	UpdatePost(ctx context.Context, platformID string, post *markdown.Post) (*Post, error)
	DeletePost(ctx context.Context, platformID string) error
	GetPost(ctx context.Context, platformID string) (*Post, error)
	ListPosts(ctx context.Context, opts ListOptions) ([]Post, error)
}

// AuthError marks credential failures. These are permanent: retrying with the
// same credentials cannot succeed, so the queue fails such jobs immediately.
type AuthError struct {
	Platform string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Platform, e.Reason)
}

// RateLimitError carries the platform's requested backoff.
type RateLimitError struct {
	Platform string
	After    time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Platform, e.After)
}

func (e *RateLimitError) RetryAfter() time.Duration { return e.After }

func truncateTags(tags []string, maxN int) []string {
	if len(tags) <= maxN {
		return tags
	}
	return tags[:maxN]
}
