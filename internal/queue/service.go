// Package queue drives cross-post jobs: FIFO admission, a concurrency bound,
// retry with exponential backoff, and lifecycle events on the bus.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/eventbus"
	"crosspost/internal/markdown"
	"crosspost/internal/poster"
	logx "crosspost/pkg/logx"
)

// Dispatcher is the platform-dispatch capability jobs execute against.
// *poster.Service implements it; tests substitute fakes.
type Dispatcher interface {
	PostAll(ctx context.Context, post *markdown.Post) []poster.Result
	Post(ctx context.Context, platformName string, post *markdown.Post) poster.Result
	Update(ctx context.Context, platformName, platformID string, post *markdown.Post) poster.Result
	Delete(ctx context.Context, platformName, platformID string) poster.Result
}

type Service struct {
	mu         sync.Mutex
	cfg        Config
	log        logx.Logger
	bus        eventbus.Bus
	dispatcher Dispatcher

	jobs    map[string]*Job
	pending []*Job // FIFO; retried jobs re-enter at the tail
	active  int

	processing bool
	stopCh     chan struct{}

	// wake nudges the dispatch loop when a job is added or a slot frees.
	wake chan struct{}
}

func New(cfg Config, dispatcher Dispatcher, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:        cfg.withDefaults(),
		log:        log,
		bus:        bus,
		dispatcher: dispatcher,
		jobs:       map[string]*Job{},
		wake:       make(chan struct{}, 1),
	}
}

// Add enqueues a job and returns its ID immediately. It never blocks and
// never fails; malformed data surfaces as an execution-time job failure.
func (s *Service) Add(data JobData) string {
	s.mu.Lock()
	job := s.addLocked(data)
	// Published under the lock so jobAdded is ordered before the dispatch
	// loop's job:started. The bus never blocks, so this is safe.
	s.publish(eventbus.EventJobAdded, job.snapshot(), "")
	if s.startLoopLocked() {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventProcessingStarted})
	}
	s.mu.Unlock()

	s.signal()
	return job.ID
}

// AddBatch enqueues every entry, preserving order of the returned IDs.
func (s *Service) AddBatch(list []JobData) []string {
	if len(list) == 0 {
		return nil
	}

	s.mu.Lock()
	ids := make([]string, 0, len(list))
	snaps := make([]Job, 0, len(list))
	for _, data := range list {
		job := s.addLocked(data)
		ids = append(ids, job.ID)
		snaps = append(snaps, job.snapshot())
	}
	for _, snap := range snaps {
		s.publish(eventbus.EventJobAdded, snap, "")
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.EventBatchAdded, Data: snaps})
	if s.startLoopLocked() {
		s.bus.Publish(eventbus.Event{Type: eventbus.EventProcessingStarted})
	}
	s.mu.Unlock()

	s.signal()
	return ids
}

func (s *Service) addLocked(data JobData) *Job {
	maxAttempts := data.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.MaxAttempts
	}
	job := &Job{
		ID:          uuid.NewString(),
		Data:        data,
		Status:      StatusPending,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now(),
	}
	s.jobs[job.ID] = job
	s.pending = append(s.pending, job)
	return job
}

// Status returns a point-in-time snapshot of queue counters.
func (s *Service) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := QueueStatus{
		TotalJobs:      len(s.jobs),
		PendingJobs:    len(s.pending),
		ProcessingJobs: s.active,
		Processing:     s.processing,
	}
	for _, j := range s.jobs {
		switch j.Status {
		case StatusCompleted:
			st.CompletedJobs++
		case StatusFailed:
			st.FailedJobs++
		}
	}
	return st
}

// Job looks up a job by ID across pending, in-flight and finished sets.
// The returned Job is a copy; queue-owned state is never handed out.
func (s *Service) Job(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return j.snapshot(), true
}

// Clear discards all pending jobs, in-flight tracking and finished history.
// Outcomes of jobs still executing are dropped when they land.
func (s *Service) Clear() {
	s.mu.Lock()
	n := len(s.jobs)
	s.jobs = map[string]*Job{}
	s.pending = nil
	s.mu.Unlock()

	s.log.Debug("queue cleared", logx.Int("discarded", n))
	s.bus.Publish(eventbus.Event{Type: eventbus.EventQueueCleared})
	s.signal()
}

// Stop halts the dispatch loop. In-flight jobs are not cancelled; they run
// to completion but nothing further is scheduled. Add restarts the loop.
func (s *Service) Stop() {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.processing = false
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	s.log.Info("queue stopped")
	s.bus.Publish(eventbus.Event{Type: eventbus.EventQueueStopped})
}

func (s *Service) startLoopLocked() bool {
	if s.processing {
		return false
	}
	s.processing = true
	s.stopCh = make(chan struct{})
	go s.run(s.stopCh)
	return true
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Service) publish(evType string, job Job, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: evType, Data: JobEvent{Job: job, Error: errMsg}})
}
