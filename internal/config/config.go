// Package config loads crosspost configuration from YAML or JSON files with
// strict field checking, and resolves credentials from the environment when
// the file omits them.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"crosspost/internal/batch"
	"crosspost/internal/queue"
	"crosspost/internal/storage"
	"crosspost/internal/watcher"
)

const (
	envDevtoAPIKey         = "DEVTO_API_KEY"
	envHashnodeToken       = "HASHNODE_TOKEN"
	envHashnodePublication = "HASHNODE_PUBLICATION_ID"
)

// Load reads, strictly decodes and validates the config at path. A missing
// file is not an error when allowMissing is true; the zero Config (with env
// credentials applied) is returned instead.
func Load(path string, allowMissing bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && allowMissing {
			cfg := &Config{}
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, err
	}

	cfg, err := Parse(path, b)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw file contents. A .yaml/.yml path is converted to JSON
// first so both formats go through the same strict decoder.
func Parse(path string, data []byte) (*Config, error) {
	jb := data
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var err error
		if jb, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

// yamlToJSON re-encodes a YAML document as JSON so the JSON decoder's
// DisallowUnknownFields applies to YAML configs too.
func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys rewrites non-string map keys, which the YAML decoder produces
// for documents like "1: x" and json.Marshal rejects.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// applyEnv fills credential fields from the environment where the file left
// them empty. An env credential for a platform with no config section
// enables that platform.
func (c *Config) applyEnv() {
	if key := os.Getenv(envDevtoAPIKey); key != "" {
		if c.Platforms.Devto == nil {
			c.Platforms.Devto = &DevtoConfig{}
		}
		if c.Platforms.Devto.APIKey == "" {
			c.Platforms.Devto.APIKey = key
		}
	}
	if tok := os.Getenv(envHashnodeToken); tok != "" {
		if c.Platforms.Hashnode == nil {
			c.Platforms.Hashnode = &HashnodeConfig{}
		}
		if c.Platforms.Hashnode.Token == "" {
			c.Platforms.Hashnode.Token = tok
		}
	}
	if c.Platforms.Hashnode != nil && c.Platforms.Hashnode.PublicationID == "" {
		c.Platforms.Hashnode.PublicationID = os.Getenv(envHashnodePublication)
	}
}

// Validate checks cross-field constraints that the decoder cannot express.
func (c *Config) Validate() error {
	if d := c.Platforms.Devto; d != nil && d.APIKey == "" {
		return fmt.Errorf("platforms.devto: api_key is required (or set %s)", envDevtoAPIKey)
	}
	if h := c.Platforms.Hashnode; h != nil {
		if h.Token == "" {
			return fmt.Errorf("platforms.hashnode: token is required (or set %s)", envHashnodeToken)
		}
		if h.PublicationID == "" {
			return fmt.Errorf("platforms.hashnode: publication_id is required (or set %s)", envHashnodePublication)
		}
	}
	if c.Queue.Concurrency < 0 {
		return fmt.Errorf("queue.concurrency must be >= 0")
	}
	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue.max_attempts must be >= 0")
	}
	if c.Batch.Concurrency < 0 {
		return fmt.Errorf("batch.concurrency must be >= 0")
	}
	if s := c.Storage; s != nil {
		switch s.Driver {
		case "file", "sqlite", "none", "":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", s.Driver)
		}
		if (s.Driver == "file" || s.Driver == "sqlite") && s.Path == "" {
			return fmt.Errorf("storage.path is required for driver %q", s.Driver)
		}
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	// Durations are validated eagerly so a bad config fails at load, not at
	// first use.
	durations := []struct{ path, raw string }{
		{"queue.base_delay", c.Queue.BaseDelay},
		{"queue.max_delay", c.Queue.MaxDelay},
		{"queue.job_timeout", c.Queue.JobTimeout},
		{"batch.delay", c.Batch.Delay},
		{"watcher.debounce", c.Watcher.Debounce},
	}
	if c.Storage != nil {
		durations = append(durations, struct{ path, raw string }{"storage.busy_timeout", c.Storage.BusyTimeout})
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// QueueConfig materializes the queue section with parsed durations.
func (c *Config) QueueConfig() (queue.Config, error) {
	base, err := ParseDurationField("queue.base_delay", c.Queue.BaseDelay)
	if err != nil {
		return queue.Config{}, err
	}
	max, err := ParseDurationField("queue.max_delay", c.Queue.MaxDelay)
	if err != nil {
		return queue.Config{}, err
	}
	timeout, err := ParseDurationField("queue.job_timeout", c.Queue.JobTimeout)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{
		Concurrency: c.Queue.Concurrency,
		MaxAttempts: c.Queue.MaxAttempts,
		BaseDelay:   base,
		MaxDelay:    max,
		JobTimeout:  timeout,
	}, nil
}

// BatchConfig materializes the batch section. SkipDrafts defaults to true
// when omitted.
func (c *Config) BatchConfig() (batch.Config, error) {
	delay, err := ParseDurationField("batch.delay", c.Batch.Delay)
	if err != nil {
		return batch.Config{}, err
	}
	skip := true
	if c.Batch.SkipDrafts != nil {
		skip = *c.Batch.SkipDrafts
	}
	return batch.Config{
		Concurrency: c.Batch.Concurrency,
		Delay:       delay,
		SkipDrafts:  skip,
	}, nil
}

// WatcherConfig materializes the watcher section for a directory.
func (c *Config) WatcherConfig(dir string) (watcher.Config, error) {
	deb, err := ParseDurationField("watcher.debounce", c.Watcher.Debounce)
	if err != nil {
		return watcher.Config{}, err
	}
	return watcher.Config{Dir: dir, Debounce: deb}, nil
}

// StorageConfig materializes the storage section. A nil section disables
// persistence.
func (c *Config) StorageConfig() (storage.Config, error) {
	if c.Storage == nil {
		return storage.Config{Driver: "none"}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	driver := c.Storage.Driver
	if driver == "" {
		driver = "file"
	}
	return storage.Config{
		Driver:      driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
