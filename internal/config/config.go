// Package config loads, validates, and watches the digestbot configuration.
//
// Files are YAML or JSON; YAML is coerced to JSON so one strict decoder
// (DisallowUnknownFields) covers both. All durations are Go duration strings
// (e.g. "500ms", "10s", "5m").
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Log        LogConfig        `json:"log,omitempty"`
	Storage    StorageConfig    `json:"storage"`
	Telegram   TelegramConfig   `json:"telegram"`
	Summarizer SummarizerConfig `json:"summarizer,omitempty"`
	Sources    SourcesConfig    `json:"sources,omitempty"`
	Digest     DigestConfig     `json:"digest,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler,omitempty"`
	Delivery   DeliveryConfig   `json:"delivery,omitempty"`
	Debug      DebugConfig      `json:"debug,omitempty"`
}

// DebugConfig controls the loopback pprof/status listener.
type DebugConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default 127.0.0.1:6060
}

type LogConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // default true
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

func (c LogConfig) ConsoleEnabled() bool { return c.Console == nil || *c.Console }

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	Token   string `json:"token"`
	Timeout string `json:"timeout,omitempty"`
}

type SummarizerConfig struct {
	Enabled     bool     `json:"enabled,omitempty"`
	BaseURL     string   `json:"base_url,omitempty"`
	APIKey      string   `json:"api_key,omitempty"`
	Model       string   `json:"model,omitempty"`
	Timeout     string   `json:"timeout,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"` // absent keeps the client default; 0 is honored
}

type SourcesConfig struct {
	CacheTTL   string `json:"cache_ttl,omitempty"` // default 15m
	HackerNews struct {
		Enabled bool `json:"enabled,omitempty"`
		Limit   int  `json:"limit,omitempty"`
	} `json:"hackernews,omitempty"`
}

type DigestConfig struct {
	LockTTL       string `json:"lock_ttl,omitempty"`     // default 5m
	MaxAttempts   int    `json:"max_attempts,omitempty"` // per external call; default 3
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	MaxChunkBytes int    `json:"max_chunk_bytes,omitempty"` // default Telegram's 4096
	CycleTimeout  string `json:"cycle_timeout,omitempty"`   // default 4m, keep under lock_ttl
}

type SchedulerConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Timezone    string `json:"timezone,omitempty"` // IANA TZ for recipient HH:MM schedules
	Concurrency int    `json:"concurrency,omitempty"`
}

type DeliveryConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"` // default 25
	RetryMax   int `json:"retry_max,omitempty"`    // default 3
}

// Validate rejects configs that cannot possibly run. Duration strings are
// parsed here so a bad value fails at load, not mid-cycle.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Summarizer.Enabled && strings.TrimSpace(c.Summarizer.APIKey) == "" {
		return fmt.Errorf("summarizer.api_key is required when summarizer.enabled")
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}
	for _, d := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"telegram.timeout", c.Telegram.Timeout},
		{"summarizer.timeout", c.Summarizer.Timeout},
		{"sources.cache_ttl", c.Sources.CacheTTL},
		{"digest.lock_ttl", c.Digest.LockTTL},
		{"digest.retry_base", c.Digest.RetryBase},
		{"digest.retry_max_delay", c.Digest.RetryMaxDelay},
		{"digest.cycle_timeout", c.Digest.CycleTimeout},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses an optional duration string; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
