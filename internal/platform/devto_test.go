package platform

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crosspost/internal/markdown"
)

func devtoTestPost() *markdown.Post {
	return &markdown.Post{
		Title:   "Hello",
		Content: "# Hello\n\nbody",
		Tags:    []string{"go", "testing", "ci", "tools", "extra-fifth"},
		Slug:    "hello",
		Status:  markdown.StatusPublished,
	}
}

func TestDevtoCreatePost(t *testing.T) {
	var gotReq devtoArticleReq
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/articles" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(devtoArticle{ID: 42, Title: "Hello", URL: "https://dev.to/u/hello", Published: true})
	}))
	defer srv.Close()

	d := NewDevto("secret-key", WithDevtoBaseURL(srv.URL))
	p, err := d.CreatePost(context.Background(), devtoTestPost())
	if err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if p.ID != "42" || p.URL != "https://dev.to/u/hello" || !p.Published {
		t.Fatalf("post = %+v", p)
	}
	if gotKey != "secret-key" {
		t.Fatalf("api-key header = %q", gotKey)
	}
	if !gotReq.Article.Published {
		t.Fatal("published post sent as draft")
	}
	tags, ok := gotReq.Article.Tags.([]any)
	if !ok || len(tags) != 4 {
		t.Fatalf("tags = %#v, want 4 entries (platform cap)", gotReq.Article.Tags)
	}
}

func TestDevtoUnauthorizedBecomesAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"})
	}))
	defer srv.Close()

	d := NewDevto("bad-key", WithDevtoBaseURL(srv.URL))
	_, err := d.CreatePost(context.Background(), devtoTestPost())

	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v (%T), want AuthError", err, err)
	}
	if ae.Platform != "devto" || ae.Reason != "invalid api key" {
		t.Fatalf("auth error = %+v", ae)
	}
}

func TestDevtoRateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDevto("key", WithDevtoBaseURL(srv.URL))
	_, err := d.CreatePost(context.Background(), devtoTestPost())

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v (%T), want RateLimitError", err, err)
	}
	if rl.RetryAfter() != 7*time.Second {
		t.Fatalf("RetryAfter = %v, want 7s", rl.RetryAfter())
	}
}

func TestDevtoRateLimitDefaultWithoutHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDevto("key", WithDevtoBaseURL(srv.URL))
	_, err := d.CreatePost(context.Background(), devtoTestPost())

	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter() <= 0 {
		t.Fatalf("RetryAfter = %v, want a positive default", rl.RetryAfter())
	}
}

func TestDevtoUpdateTargetsArticle(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		json.NewEncoder(w).Encode(devtoArticle{ID: 42, URL: "https://dev.to/u/hello"})
	}))
	defer srv.Close()

	d := NewDevto("key", WithDevtoBaseURL(srv.URL))
	if _, err := d.UpdatePost(context.Background(), "42", devtoTestPost()); err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}
	if method != http.MethodPut || path != "/articles/42" {
		t.Fatalf("request was %s %s", method, path)
	}
}

func TestDevtoDeleteUnpublishes(t *testing.T) {
	var path, method string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDevto("key", WithDevtoBaseURL(srv.URL))
	if err := d.DeletePost(context.Background(), "42"); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}
	if method != http.MethodPut || path != "/articles/42/unpublish" {
		t.Fatalf("request was %s %s", method, path)
	}
}

func TestDevtoServerErrorIsPlainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDevto("key", WithDevtoBaseURL(srv.URL))
	_, err := d.CreatePost(context.Background(), devtoTestPost())
	if err == nil {
		t.Fatal("500 response returned no error")
	}
	var ae *AuthError
	var rl *RateLimitError
	if errors.As(err, &ae) || errors.As(err, &rl) {
		t.Fatalf("500 misclassified: %v", err)
	}
}

func TestTruncateTags(t *testing.T) {
	in := []string{"a", "b", "c", "d", "e"}
	out := truncateTags(in, 4)
	if len(out) != 4 || out[3] != "d" {
		t.Fatalf("truncateTags = %v", out)
	}
	short := truncateTags([]string{"x"}, 4)
	if len(short) != 1 {
		t.Fatalf("short input altered: %v", short)
	}
}
