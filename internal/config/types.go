package config

// Config is the root of a crosspost configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Platforms PlatformsConfig `json:"platforms"`
	Queue     QueueConfig     `json:"queue,omitempty"`
	Batch     BatchConfig     `json:"batch,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Watcher   WatcherConfig   `json:"watcher,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// PlatformsConfig holds per-platform credentials. A platform with no
// credentials is simply not targeted. Credentials omitted from the file fall
// back to environment variables (DEVTO_API_KEY, HASHNODE_TOKEN,
// HASHNODE_PUBLICATION_ID).
type PlatformsConfig struct {
	Devto    *DevtoConfig    `json:"devto,omitempty"`
	Hashnode *HashnodeConfig `json:"hashnode,omitempty"`
}

type DevtoConfig struct {
	APIKey string `json:"api_key,omitempty"`

	// Organization is a dev.to organization ID to publish under.
	Organization int `json:"organization,omitempty"`

	// RatePerSec caps outgoing request rate. 0 uses the built-in default.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

type HashnodeConfig struct {
	Token         string  `json:"token,omitempty"`
	PublicationID string  `json:"publication_id,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
}

// QueueConfig mirrors queue.Config with string durations.
//
// Defaults (when fields are omitted/zero):
//   - concurrency: 3
//   - max_attempts: 3
//   - base_delay: "1s"
//   - max_delay: "30s"
//   - job_timeout: "0s" (disabled)
type QueueConfig struct {
	Concurrency int    `json:"concurrency,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
	BaseDelay   string `json:"base_delay,omitempty"`
	MaxDelay    string `json:"max_delay,omitempty"`
	JobTimeout  string `json:"job_timeout,omitempty"`
}

type BatchConfig struct {
	Concurrency int    `json:"concurrency,omitempty"`
	Delay       string `json:"delay,omitempty"`
	SkipDrafts  *bool  `json:"skip_drafts,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA zone name (e.g. "Europe/Amsterdam"). Empty means
	// the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

type WatcherConfig struct {
	Debounce string `json:"debounce,omitempty"`
}

// StorageConfig selects the sync-mapping store. Driver is "file", "sqlite"
// or "none".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"`
	File    string `json:"file,omitempty"`
}
