// Package scheduler triggers batch cross-post runs against a directory at
// recurring wall-clock times (daily, weekly, or raw cron expressions).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"crosspost/internal/batch"
	logx "crosspost/pkg/logx"
)

// Config controls scheduled runs.
type Config struct {
	// Timezone is an IANA zone name, e.g. "Asia/Jakarta". Empty means local.
	Timezone string

	// Batch settings applied to every triggered run. SkipDrafts is forced on:
	// unattended runs must never publish drafts.
	Concurrency int
	Delay       time.Duration
}

type registration struct {
	entryID cron.EntryID
	spec    string
	dir     string
}

type Service struct {
	mu sync.Mutex

	log        logx.Logger
	cfg        Config
	dispatcher batch.Dispatcher

	parser cron.Parser
	c      *cron.Cron
	regs   map[string]registration
}

func New(cfg Config, dispatcher batch.Dispatcher, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s := &Service{
		log:        log,
		cfg:        cfg,
		dispatcher: dispatcher,
		parser:     parser,
		c:          cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		regs:       map[string]registration{},
	}
	s.c.Start()
	return s, nil
}

// ScheduleDaily registers a run of dir every day at "HH:MM".
// Malformed times fail fast; nothing is registered.
func (s *Service) ScheduleDaily(at, dir string) (string, error) {
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * *", m, h)
	id := fmt.Sprintf("daily-%02d:%02d", h, m)
	return s.register(id, spec, dir)
}

// ScheduleWeekly registers a run of dir every week on dayOfWeek (0=Sunday
// through 6=Saturday) at "HH:MM".
func (s *Service) ScheduleWeekly(dayOfWeek int, at, dir string) (string, error) {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return "", fmt.Errorf("invalid day of week %d (want 0-6, 0=Sunday)", dayOfWeek)
	}
	h, m, err := parseHHMM(at)
	if err != nil {
		return "", err
	}
	spec := fmt.Sprintf("%d %d * * %d", m, h, dayOfWeek)
	id := fmt.Sprintf("weekly-%d-%02d:%02d", dayOfWeek, h, m)
	return s.register(id, spec, dir)
}

// ScheduleCustom registers a run of dir on a standard 5-field cron
// expression. An optional jobID overrides the generated one.
func (s *Service) ScheduleCustom(spec, dir string, jobID ...string) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	id := "custom-" + uuid.NewString()[:8]
	if len(jobID) > 0 && strings.TrimSpace(jobID[0]) != "" {
		id = strings.TrimSpace(jobID[0])
	}
	return s.register(id, spec, dir)
}

func (s *Service) register(id, spec, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("directory required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Upsert by ID so re-registering a schedule never duplicates triggers.
	if prev, ok := s.regs[id]; ok {
		s.c.Remove(prev.entryID)
		delete(s.regs, id)
	}

	entryID, err := s.c.AddFunc(spec, func() { s.runDir(id, dir) })
	if err != nil {
		return "", fmt.Errorf("register schedule %q: %w", spec, err)
	}
	s.regs[id] = registration{entryID: entryID, spec: spec, dir: dir}
	s.log.Info("schedule registered",
		logx.String("id", id),
		logx.String("spec", spec),
		logx.String("dir", dir),
	)
	return id, nil
}

// StopJob unregisters one schedule. It reports whether the ID was known.
func (s *Service) StopJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return false
	}
	s.c.Remove(reg.entryID)
	delete(s.regs, id)
	s.log.Info("schedule stopped", logx.String("id", id))
	return true
}

// StopAll unregisters every schedule.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, reg := range s.regs {
		s.c.Remove(reg.entryID)
		delete(s.regs, id)
	}
	s.log.Info("all schedules stopped")
}

// ActiveJobs returns the registered schedule IDs, sorted.
func (s *Service) ActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.regs))
	for id := range s.regs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops cron triggering and waits for a running trigger to land.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.mu.Unlock()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
}

// runDir re-enumerates the directory at fire time and pushes every markdown
// file through a fresh batch processor. A failed run is logged and the
// schedule stays registered for the next trigger.
func (s *Service) runDir(id, dir string) {
	start := time.Now()
	files, err := ListMarkdown(dir)
	if err != nil {
		s.log.Error("scheduled run failed", logx.String("id", id), logx.String("dir", dir), logx.Err(err))
		return
	}
	if len(files) == 0 {
		s.log.Debug("scheduled run found no markdown files", logx.String("id", id), logx.String("dir", dir))
		return
	}

	proc := batch.New(batch.Config{
		Concurrency: s.cfg.Concurrency,
		Delay:       s.cfg.Delay,
		SkipDrafts:  true,
	}, s.dispatcher, s.log.With(logx.String("schedule", id)))

	results := proc.ProcessFiles(context.Background(), files)

	ok, failed := 0, 0
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	s.log.Info("scheduled run finished",
		logx.String("id", id),
		logx.Int("files", len(files)),
		logx.Int("ok", ok),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)),
	)
}

// ListMarkdown enumerates the .md/.markdown files directly under dir.
func ListMarkdown(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".md" || ext == ".markdown" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// parseHHMM validates a wall-clock "HH:MM" string.
func parseHHMM(v string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q (want 00-23)", v)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q (want 00-59)", v)
	}
	return h, m, nil
}
