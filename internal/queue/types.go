package queue

import (
	"time"

	"crosspost/internal/markdown"
	"crosspost/internal/poster"
)

// Config controls the job queue.
type Config struct {
	// Concurrency bounds simultaneously executing jobs.
	Concurrency int

	// MaxAttempts is the default execution ceiling per job.
	MaxAttempts int

	// BaseDelay and MaxDelay shape the exponential retry backoff:
	// min(BaseDelay * 2^(attempts-1), MaxDelay).
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// JobTimeout bounds a single execution attempt. 0 disables the bound,
	// in which case a hung platform call holds its slot until it returns.
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	return c
}

// JobType selects the handler for a job.
type JobType string

const (
	TypeCrosspost         JobType = "crosspost"
	TypeCrosspostPlatform JobType = "crosspost-platform"
	TypeUpdate            JobType = "update"
	TypeDelete            JobType = "delete"
)

// JobData is the requested unit of work.
//
// Which fields are meaningful depends on Type:
//   - crosspost:          Post (all configured platforms)
//   - crosspost-platform: Post, Platform
//   - update:             Post, Platform, PlatformID
//   - delete:             Platform, PlatformID
type JobData struct {
	Type       JobType
	Post       *markdown.Post
	Platform   string
	PlatformID string

	// MaxAttempts overrides Config.MaxAttempts for this job when > 0.
	MaxAttempts int
}

// Status is the job lifecycle state machine value.
//
// pending -> processing -> (completed | failed), with a pending re-entry
// on retry. completed and failed are terminal.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a unit of work plus its lifecycle state. The queue owns jobs
// exclusively; lookups return copies.
type Job struct {
	ID          string
	Data        JobData
	Status      Status
	Attempts    int
	MaxAttempts int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryAt     *time.Time

	Result []poster.Result
	Error  string
}

func (j *Job) snapshot() Job {
	cp := *j
	if j.Result != nil {
		cp.Result = append([]poster.Result(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.RetryAt != nil {
		t := *j.RetryAt
		cp.RetryAt = &t
	}
	return cp
}

// QueueStatus is a point-in-time snapshot, not a live view.
type QueueStatus struct {
	TotalJobs      int
	PendingJobs    int
	ProcessingJobs int
	CompletedJobs  int
	FailedJobs     int
	Processing     bool
}

// JobEvent is the payload published on the event bus for job lifecycle
// events. Error is set for job:retry and job:failed.
type JobEvent struct {
	Job   Job
	Error string
}
