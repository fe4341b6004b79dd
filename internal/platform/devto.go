package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"crosspost/internal/markdown"
)

const (
	devtoBaseURL = "https://dev.to/api"

	// Dev.to rejects articles with more than four tags.
	devtoMaxTags = 4
)

// Devto is the Dev.to REST client.
type Devto struct {
	apiKey  string
	orgID   int
	baseURL string
	hc      *http.Client
}

type DevtoOption func(*Devto)

// WithDevtoBaseURL overrides the API endpoint (used by tests).
func WithDevtoBaseURL(u string) DevtoOption { return func(d *Devto) { d.baseURL = u } }

// WithDevtoOrganization attributes created articles to an organization.
func WithDevtoOrganization(id int) DevtoOption { return func(d *Devto) { d.orgID = id } }

func WithDevtoHTTPClient(hc *http.Client) DevtoOption { return func(d *Devto) { d.hc = hc } }

func NewDevto(apiKey string, opts ...DevtoOption) *Devto {
	d := &Devto{
		apiKey:  apiKey,
		baseURL: devtoBaseURL,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Devto) Name() string { return "devto" }

type devtoArticle struct {
	ID           int    `json:"id,omitempty"`
	Title        string `json:"title"`
	BodyMarkdown string `json:"body_markdown"`
	Published    bool   `json:"published"`
	Description  string `json:"description,omitempty"`
	Tags         any    `json:"tags,omitempty"`
	CanonicalURL string `json:"canonical_url,omitempty"`
	MainImage    string `json:"main_image,omitempty"`
	OrgID        int    `json:"organization_id,omitempty"`
	URL          string `json:"url,omitempty"`
	EditedAt     string `json:"edited_at,omitempty"`
}

type devtoArticleReq struct {
	Article devtoArticle `json:"article"`
}

func (d *Devto) article(post *markdown.Post) devtoArticle {
	return devtoArticle{
		Title:        post.Title,
		BodyMarkdown: post.Content,
		Published:    !post.Draft(),
		Description:  post.Description,
		Tags:         truncateTags(post.Tags, devtoMaxTags),
		CanonicalURL: post.CanonicalURL,
		MainImage:    post.CoverImage,
		OrgID:        d.orgID,
	}
}

func (d *Devto) Authenticate(ctx context.Context) error {
	var me struct {
		Username string `json:"username"`
	}
	return d.do(ctx, http.MethodGet, "/users/me", nil, &me)
}

func (d *Devto) CreatePost(ctx context.Context, post *markdown.Post) (*Post, error) {
	var out devtoArticle
	if err := d.do(ctx, http.MethodPost, "/articles", devtoArticleReq{Article: d.article(post)}, &out); err != nil {
		return nil, err
	}
	return devtoToPost(out), nil
}

func (d *Devto) UpdatePost(ctx context.Context, platformID string, post *markdown.Post) (*Post, error) {
	var out devtoArticle
	if err := d.do(ctx, http.MethodPut, "/articles/"+platformID, devtoArticleReq{Article: d.article(post)}, &out); err != nil {
		return nil, err
	}
	return devtoToPost(out), nil
}

// DeletePost unpublishes the article. Dev.to has no hard-delete API endpoint;
// unpublish is the closest supported operation.
func (d *Devto) DeletePost(ctx context.Context, platformID string) error {
	return d.do(ctx, http.MethodPut, "/articles/"+platformID+"/unpublish", nil, nil)
}

func (d *Devto) GetPost(ctx context.Context, platformID string) (*Post, error) {
	var out devtoArticle
	if err := d.do(ctx, http.MethodGet, "/articles/"+platformID, nil, &out); err != nil {
		return nil, err
	}
	return devtoToPost(out), nil
}

func (d *Devto) ListPosts(ctx context.Context, opts ListOptions) ([]Post, error) {
	page := opts.Page
	if page <= 0 {
		page = 1
	}
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = 30
	}
	path := fmt.Sprintf("/articles/me/all?page=%d&per_page=%d", page, perPage)
	var arts []devtoArticle
	if err := d.do(ctx, http.MethodGet, path, nil, &arts); err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(arts))
	for _, a := range arts {
		posts = append(posts, *devtoToPost(a))
	}
	return posts, nil
}

func devtoToPost(a devtoArticle) *Post {
	p := &Post{
		ID:        strconv.Itoa(a.ID),
		Title:     a.Title,
		URL:       a.URL,
		Published: a.Published,
	}
	if t, err := time.Parse(time.RFC3339, a.EditedAt); err == nil {
		p.UpdatedAt = t
	}
	return p
}

func (d *Devto) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("devto: encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", d.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		return fmt.Errorf("devto: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Platform: d.Name(), Reason: readAPIError(resp.Body)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{Platform: d.Name(), After: retryAfterHeader(resp, 30*time.Second)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("devto: %s %s: status %d: %s", method, path, resp.StatusCode, readAPIError(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("devto: decode response: %w", err)
	}
	return nil
}

func retryAfterHeader(resp *http.Response, def time.Duration) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}

func readAPIError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2048))
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	return string(bytes.TrimSpace(b))
}
