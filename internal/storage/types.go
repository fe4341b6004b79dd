package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (json state + jsonl history)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Mapping associates a local article slug with its platform-side post ID, so
// later runs update instead of duplicating.
type Mapping struct {
	Slug       string
	Platform   string
	PlatformID string
	URL        string
	UpdatedAt  time.Time
}

// RunRecord is one cross-post attempt outcome, kept for `crosspost status`.
// Keep it compact and schema-stable.
type RunRecord struct {
	At       time.Time
	File     string
	Slug     string
	Platform string
	Action   string // create | update | delete | skip
	OK       bool
	URL      string
	Error    string
	TookMS   int64
}
