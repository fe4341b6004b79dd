package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"crosspost/internal/eventbus"
	"crosspost/internal/platform"
	"crosspost/internal/poster"
	logx "crosspost/pkg/logx"
)

// run is the dispatch loop. It launches eligible pending jobs while slots are
// free, then sleeps until a wake signal, the earliest retryAt, or stop. It
// exits once the queue is drained (pending empty, nothing in flight).
func (s *Service) run(stopCh <-chan struct{}) {
	for {
		now := time.Now()

		s.mu.Lock()
		var startedSnaps []Job
		for s.active < s.cfg.Concurrency {
			job := s.popEligibleLocked(now)
			if job == nil {
				break
			}
			s.active++
			job.Status = StatusProcessing
			st := now
			job.StartedAt = &st
			job.RetryAt = nil
			job.Attempts++
			startedSnaps = append(startedSnaps, job.snapshot())
			// execute blocks on s.mu before doing anything, so publishing
			// here keeps job:started ahead of the job's terminal event.
			s.publish(eventbus.EventJobStarted, job.snapshot(), "")
			go s.execute(job)
		}

		drained := len(s.pending) == 0 && s.active == 0
		if drained {
			s.processing = false
			s.stopCh = nil
			// Published before the lock is released: once processing is
			// false a concurrent Add may start a new cycle, and its
			// processingStarted must not get ahead of this one's close.
			s.bus.Publish(eventbus.Event{Type: eventbus.EventProcessingCompleted})
		}

		// If capacity is free but every pending job is still waiting out its
		// backoff, sleep only until the earliest one becomes eligible.
		wait := time.Duration(-1)
		if !drained && s.active < s.cfg.Concurrency && len(s.pending) > 0 {
			wait = s.earliestRetryLocked(now)
		}
		s.mu.Unlock()

		for _, snap := range startedSnaps {
			s.log.Debug("job started",
				logx.String("id", snap.ID),
				logx.String("type", string(snap.Data.Type)),
				logx.Int("attempt", snap.Attempts),
			)
		}

		if drained {
			return
		}

		var tmr *time.Timer
		var timerC <-chan time.Time
		if wait >= 0 {
			tmr = time.NewTimer(wait)
			timerC = tmr.C
		}
		select {
		case <-stopCh:
			if tmr != nil {
				tmr.Stop()
			}
			return
		case <-s.wake:
		case <-timerC:
		}
		if tmr != nil {
			tmr.Stop()
		}
	}
}

// popEligibleLocked removes and returns the first pending job whose retryAt
// has passed. Jobs still inside their backoff window are skipped, so a fresh
// submission is not blocked behind a waiting retry.
func (s *Service) popEligibleLocked(now time.Time) *Job {
	for i, j := range s.pending {
		if j.RetryAt != nil && j.RetryAt.After(now) {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return j
	}
	return nil
}

func (s *Service) earliestRetryLocked(now time.Time) time.Duration {
	min := time.Duration(-1)
	for _, j := range s.pending {
		if j.RetryAt == nil {
			return 0
		}
		d := j.RetryAt.Sub(now)
		if d < 0 {
			d = 0
		}
		if min < 0 || d < min {
			min = d
		}
	}
	return min
}

func (s *Service) execute(job *Job) {
	s.mu.Lock()
	data := job.Data
	timeout := s.cfg.JobTimeout
	s.mu.Unlock()

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}

	var result []poster.Result
	var err error
	// Guard against handler panics: one bad job must not take the queue down.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panic", logx.String("id", job.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		result, err = s.runHandler(ctx, data)
	}()
	if cancel != nil {
		cancel()
	}

	s.finish(job, result, err)
}

func (s *Service) runHandler(ctx context.Context, data JobData) ([]poster.Result, error) {
	switch data.Type {
	case TypeCrosspost:
		if data.Post == nil {
			return nil, NoRetry(errors.New("crosspost job carries no post"))
		}
		results := s.dispatcher.PostAll(ctx, data.Post)
		return results, combineErrors(results)
	case TypeCrosspostPlatform:
		if data.Post == nil {
			return nil, NoRetry(errors.New("crosspost-platform job carries no post"))
		}
		res := s.dispatcher.Post(ctx, data.Platform, data.Post)
		return []poster.Result{res}, combineErrors([]poster.Result{res})
	case TypeUpdate:
		if data.Post == nil {
			return nil, NoRetry(errors.New("update job carries no post"))
		}
		res := s.dispatcher.Update(ctx, data.Platform, data.PlatformID, data.Post)
		return []poster.Result{res}, combineErrors([]poster.Result{res})
	case TypeDelete:
		res := s.dispatcher.Delete(ctx, data.Platform, data.PlatformID)
		return []poster.Result{res}, combineErrors([]poster.Result{res})
	default:
		// An unrecognized type is a job failure, never a queue crash.
		return nil, NoRetry(fmt.Errorf("unknown job type %q", data.Type))
	}
}

func (s *Service) finish(job *Job, result []poster.Result, err error) {
	now := time.Now()

	s.mu.Lock()
	if s.active > 0 {
		s.active--
	}
	if _, known := s.jobs[job.ID]; !known {
		// Clear() ran while this job was in flight; drop the outcome.
		s.mu.Unlock()
		s.signal()
		return
	}

	var evType, errMsg string
	if err == nil {
		job.Status = StatusCompleted
		job.CompletedAt = &now
		job.Result = result
		job.Error = ""
		evType = eventbus.EventJobCompleted
	} else {
		errMsg = err.Error()
		job.Error = errMsg
		job.Result = result
		if !IsNoRetry(err) && job.Attempts < job.MaxAttempts {
			job.Status = StatusPending
			rt := now.Add(s.retryDelay(job.Attempts, err))
			job.RetryAt = &rt
			s.pending = append(s.pending, job)
			evType = eventbus.EventJobRetry
		} else {
			job.Status = StatusFailed
			job.CompletedAt = &now
			evType = eventbus.EventJobFailed
		}
	}
	snap := job.snapshot()
	// Published under the lock so the dispatch loop cannot observe the
	// drained queue and emit processingCompleted before this job's own
	// terminal event.
	s.publish(evType, snap, errMsg)
	s.mu.Unlock()

	switch evType {
	case eventbus.EventJobCompleted:
		s.log.Debug("job completed", logx.String("id", snap.ID), logx.Int("attempts", snap.Attempts))
	case eventbus.EventJobRetry:
		s.log.Debug("job retry scheduled",
			logx.String("id", snap.ID),
			logx.Int("attempt", snap.Attempts),
			logx.Time("retry_at", *snap.RetryAt),
			logx.String("err", errMsg),
		)
	case eventbus.EventJobFailed:
		s.log.Warn("job failed",
			logx.String("id", snap.ID),
			logx.Int("attempts", snap.Attempts),
			logx.String("err", errMsg),
		)
	}
	s.signal()
}

func (s *Service) retryDelay(attempts int, err error) time.Duration {
	d := Backoff(s.cfg.BaseDelay, s.cfg.MaxDelay, attempts)
	// Respect an explicit retry-after hint when the platform provided one.
	var ra RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfter() > d {
		d = ra.RetryAfter()
		if d > s.cfg.MaxDelay {
			d = s.cfg.MaxDelay
		}
	}
	return d
}

// Backoff computes the retry delay after the given attempt count:
// min(base * 2^(attempts-1), max). With base 1s and max 30s this yields
// 1s, 2s, 4s, 8s, 16s, 30s, 30s...
func Backoff(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// combineErrors folds per-platform failures into a single job error.
// Failures that are all credential errors become non-retryable; a rate-limit
// hint is carried through so the retry respects the platform's ask.
func combineErrors(results []poster.Result) error {
	var msgs []string
	var hint time.Duration
	allAuth := true
	for _, r := range results {
		if r.Success {
			continue
		}
		msg := r.Error
		if msg == "" && r.Err != nil {
			msg = r.Err.Error()
		}
		if msg == "" {
			msg = "unknown failure"
		}
		msgs = append(msgs, msg)

		var ae *platform.AuthError
		if r.Err == nil || !errors.As(r.Err, &ae) {
			allAuth = false
		}
		var ra RetryAfterError
		if r.Err != nil && errors.As(r.Err, &ra) && ra.RetryAfter() > hint {
			hint = ra.RetryAfter()
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	err := errors.New(strings.Join(msgs, "; "))
	if allAuth {
		return NoRetry(err)
	}
	if hint > 0 {
		return retryHint{err: err, after: hint}
	}
	return err
}

type retryHint struct {
	err   error
	after time.Duration
}

func (e retryHint) Error() string             { return e.err.Error() }
func (e retryHint) Unwrap() error             { return e.err }
func (e retryHint) RetryAfter() time.Duration { return e.after }
