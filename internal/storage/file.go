package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "crosspost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.sync.json     (slug -> platform post ID snapshot)
//   - <prefix>.runs.jsonl    (append-only JSON Lines run history)
//
// The sync snapshot is rewritten atomically on every mapping change; the
// mapping set is small (one entry per article per platform).
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	syncPath string
	mappings map[string]Mapping // key: slug + "\x00" + platform

	runsFile *os.File
	runsPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	syncPath := prefix + ".sync.json"
	runsPath := prefix + ".runs.jsonl"

	mappings := map[string]Mapping{}
	_ = loadSyncSnapshot(syncPath, mappings)

	rf, err := os.OpenFile(runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		syncPath: syncPath,
		mappings: mappings,
		runsFile: rf,
		runsPath: runsPath,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile != nil {
		err := s.runsFile.Close()
		s.runsFile = nil
		return err
	}
	return nil
}

func mappingKey(slug, platform string) string { return slug + "\x00" + platform }

func (s *fileStore) GetMapping(ctx context.Context, slug, platform string) (Mapping, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[mappingKey(slug, platform)]
	return m, ok, nil
}

func (s *fileStore) PutMapping(ctx context.Context, m Mapping) error {
	_ = ctx
	if strings.TrimSpace(m.Slug) == "" || strings.TrimSpace(m.Platform) == "" {
		return errors.New("mapping requires slug and platform")
	}
	m.UpdatedAt = nowOr(m.UpdatedAt)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mappingKey(m.Slug, m.Platform)] = m
	return s.writeSyncLocked()
}

func (s *fileStore) DeleteMapping(ctx context.Context, slug, platform string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mappings[mappingKey(slug, platform)]; !ok {
		return nil
	}
	delete(s.mappings, mappingKey(slug, platform))
	return s.writeSyncLocked()
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	r.At = nowOr(r.At)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run history file closed")
	}
	return json.NewEncoder(s.runsFile).Encode(r)
}

func (s *fileStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	path := s.runsPath
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []RunRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		all = append(all, r)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	// Newest first, matching the sqlite driver.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (s *fileStore) writeSyncLocked() error {
	list := make([]Mapping, 0, len(s.mappings))
	for _, m := range s.mappings {
		list = append(list, m)
	}

	tmp := s.syncPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.syncPath)
}

func loadSyncSnapshot(path string, out map[string]Mapping) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []Mapping
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, m := range list {
		out[mappingKey(m.Slug, m.Platform)] = m
	}
	return nil
}
