package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "crosspost/pkg/logx"
)

// Store is the persistence API used by the poster and the status command.
type Store interface {
	// GetMapping returns the platform post ID previously recorded for slug.
	GetMapping(ctx context.Context, slug, platform string) (Mapping, bool, error)
	PutMapping(ctx context.Context, m Mapping) error
	DeleteMapping(ctx context.Context, slug, platform string) error

	AppendRun(ctx context.Context, r RunRecord) error
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
