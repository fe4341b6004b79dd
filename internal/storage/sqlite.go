package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "crosspost/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetMapping(ctx context.Context, slug, platform string) (Mapping, bool, error) {
	if s == nil || s.db == nil {
		return Mapping{}, false, ErrDisabled
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT platform_id, url, updated_at FROM sync_mappings WHERE slug = ? AND platform = ?`,
		slug, platform,
	)
	var m Mapping
	var updated int64
	if err := row.Scan(&m.PlatformID, &m.URL, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mapping{}, false, nil
		}
		return Mapping{}, false, err
	}
	m.Slug = slug
	m.Platform = platform
	m.UpdatedAt = time.UnixMilli(updated)
	return m, true, nil
}

func (s *sqliteStore) PutMapping(ctx context.Context, m Mapping) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(m.Slug) == "" || strings.TrimSpace(m.Platform) == "" {
		return errors.New("mapping requires slug and platform")
	}
	m.UpdatedAt = nowOr(m.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_mappings (slug, platform, platform_id, url, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (slug, platform) DO UPDATE SET
		   platform_id = excluded.platform_id,
		   url         = excluded.url,
		   updated_at  = excluded.updated_at`,
		m.Slug, m.Platform, m.PlatformID, m.URL, m.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteMapping(ctx context.Context, slug, platform string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_mappings WHERE slug = ? AND platform = ?`, slug, platform)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	r.At = nowOr(r.At)
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_history (at, file, slug, platform, action, ok, url, error, took_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.At.UnixMilli(), r.File, r.Slug, r.Platform, r.Action, ok, r.URL, r.Error, r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, file, slug, platform, action, ok, url, error, took_ms
		 FROM run_history ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var at int64
		var ok int
		if err := rows.Scan(&at, &r.File, &r.Slug, &r.Platform, &r.Action, &ok, &r.URL, &r.Error, &r.TookMS); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(at)
		r.OK = ok != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
