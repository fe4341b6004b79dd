package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crosspost/internal/markdown"
)

const (
	hashnodeEndpoint = "https://gql.hashnode.com"

	// Hashnode caps posts at five tags.
	hashnodeMaxTags = 5
)

// Hashnode is the Hashnode GraphQL client.
type Hashnode struct {
	token         string
	publicationID string
	endpoint      string
	hc            *http.Client
}

type HashnodeOption func(*Hashnode)

// WithHashnodeEndpoint overrides the GraphQL endpoint (used by tests).
func WithHashnodeEndpoint(u string) HashnodeOption { return func(h *Hashnode) { h.endpoint = u } }

func WithHashnodeHTTPClient(hc *http.Client) HashnodeOption {
	return func(h *Hashnode) { h.hc = hc }
}

func NewHashnode(token, publicationID string, opts ...HashnodeOption) *Hashnode {
	h := &Hashnode{
		token:         token,
		publicationID: publicationID,
		endpoint:      hashnodeEndpoint,
		hc:            &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hashnode) Name() string { return "hashnode" }

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type hashnodePost struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	UpdatedAt string `json:"updatedAt"`
}

func (h *Hashnode) postInput(post *markdown.Post) map[string]any {
	in := map[string]any{
		"title":           post.Title,
		"contentMarkdown": post.Content,
		"publicationId":   h.publicationID,
	}
	if post.Description != "" {
		in["subtitle"] = post.Description
	}
	if len(post.Tags) > 0 {
		tags := make([]map[string]any, 0, hashnodeMaxTags)
		for _, t := range truncateTags(post.Tags, hashnodeMaxTags) {
			tags = append(tags, map[string]any{"slug": tagSlug(t), "name": t})
		}
		in["tags"] = tags
	}
	if post.CanonicalURL != "" {
		in["originalArticleURL"] = post.CanonicalURL
	}
	if post.CoverImage != "" {
		in["coverImageOptions"] = map[string]any{"coverImageURL": post.CoverImage}
	}
	return in
}

func (h *Hashnode) Authenticate(ctx context.Context) error {
	const q = `query { me { id username } }`
	var out struct {
		Me struct {
			ID string `json:"id"`
		} `json:"me"`
	}
	if err := h.do(ctx, gqlRequest{Query: q}, &out); err != nil {
		return err
	}
	if out.Me.ID == "" {
		return &AuthError{Platform: h.Name(), Reason: "token resolved no user"}
	}
	return nil
}

func (h *Hashnode) CreatePost(ctx context.Context, post *markdown.Post) (*Post, error) {
	const q = `mutation PublishPost($input: PublishPostInput!) {
  publishPost(input: $input) { post { id title url updatedAt } }
}`
	var out struct {
		PublishPost struct {
			Post hashnodePost `json:"post"`
		} `json:"publishPost"`
	}
	vars := map[string]any{"input": h.postInput(post)}
	if err := h.do(ctx, gqlRequest{Query: q, Variables: vars}, &out); err != nil {
		return nil, err
	}
	return hashnodeToPost(out.PublishPost.Post), nil
}

func (h *Hashnode) UpdatePost(ctx context.Context, platformID string, post *markdown.Post) (*Post, error) {
	const q = `mutation UpdatePost($input: UpdatePostInput!) {
  updatePost(input: $input) { post { id title url updatedAt } }
}`
	in := h.postInput(post)
	delete(in, "publicationId")
	in["id"] = platformID
	var out struct {
		UpdatePost struct {
			Post hashnodePost `json:"post"`
		} `json:"updatePost"`
	}
	if err := h.do(ctx, gqlRequest{Query: q, Variables: map[string]any{"input": in}}, &out); err != nil {
		return nil, err
	}
	return hashnodeToPost(out.UpdatePost.Post), nil
}

func (h *Hashnode) DeletePost(ctx context.Context, platformID string) error {
	const q = `mutation RemovePost($input: RemovePostInput!) {
  removePost(input: $input) { post { id } }
}`
	vars := map[string]any{"input": map[string]any{"id": platformID}}
	return h.do(ctx, gqlRequest{Query: q, Variables: vars}, &struct{}{})
}

func (h *Hashnode) GetPost(ctx context.Context, platformID string) (*Post, error) {
	const q = `query Post($id: ID!) {
  post(id: $id) { id title url updatedAt }
}`
	var out struct {
		Post *hashnodePost `json:"post"`
	}
	if err := h.do(ctx, gqlRequest{Query: q, Variables: map[string]any{"id": platformID}}, &out); err != nil {
		return nil, err
	}
	if out.Post == nil {
		return nil, fmt.Errorf("hashnode: post %s not found", platformID)
	}
	return hashnodeToPost(*out.Post), nil
}

func (h *Hashnode) ListPosts(ctx context.Context, opts ListOptions) ([]Post, error) {
	const q = `query Publication($id: ObjectId!, $first: Int!) {
  publication(id: $id) {
    posts(first: $first) { edges { node { id title url updatedAt } } }
  }
}`
	first := opts.PerPage
	if first <= 0 {
		first = 20
	}
	var out struct {
		Publication struct {
			Posts struct {
				Edges []struct {
					Node hashnodePost `json:"node"`
				} `json:"edges"`
			} `json:"posts"`
		} `json:"publication"`
	}
	vars := map[string]any{"id": h.publicationID, "first": first}
	if err := h.do(ctx, gqlRequest{Query: q, Variables: vars}, &out); err != nil {
		return nil, err
	}
	posts := make([]Post, 0, len(out.Publication.Posts.Edges))
	for _, e := range out.Publication.Posts.Edges {
		posts = append(posts, *hashnodeToPost(e.Node))
	}
	return posts, nil
}

func hashnodeToPost(hp hashnodePost) *Post {
	p := &Post{ID: hp.ID, Title: hp.Title, URL: hp.URL, Published: true}
	if t, err := time.Parse(time.RFC3339, hp.UpdatedAt); err == nil {
		p.UpdatedAt = t
	}
	return p
}

func (h *Hashnode) do(ctx context.Context, greq gqlRequest, out any) error {
	b, err := json.Marshal(greq)
	if err != nil {
		return fmt.Errorf("hashnode: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.hc.Do(req)
	if err != nil {
		return fmt.Errorf("hashnode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Platform: h.Name(), Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Platform: h.Name(), After: retryAfterHeader(resp, 30*time.Second)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("hashnode: read response: %w", err)
	}
	var gresp gqlResponse
	if err := json.Unmarshal(body, &gresp); err != nil {
		return fmt.Errorf("hashnode: decode response (status %d): %w", resp.StatusCode, err)
	}
	if len(gresp.Errors) > 0 {
		first := gresp.Errors[0]
		if first.Extensions.Code == "UNAUTHENTICATED" || first.Extensions.Code == "FORBIDDEN" {
			return &AuthError{Platform: h.Name(), Reason: first.Message}
		}
		return fmt.Errorf("hashnode: %s", first.Message)
	}
	if out == nil || len(gresp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(gresp.Data, out); err != nil {
		return fmt.Errorf("hashnode: decode data: %w", err)
	}
	return nil
}

func tagSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "-")
	return s
}
