package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Schedule is the default posting schedule armed at startup.
	Schedule ScheduleConfig `json:"schedule"`

	Content ContentConfig  `json:"content"`
	Review  ReviewConfig   `json:"review,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channel is the destination chat for posts, e.g. "@myquotes" or "-1001234".
	Channel      string  `json:"channel"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Memory  LoggingMemory `json:"memory,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingMemory controls the in-memory record ring served by /get_logs.
type LoggingMemory struct {
	Size     int    `json:"size,omitempty"`
	MinLevel string `json:"min_level,omitempty"`
}

// ScheduleConfig is the daily default schedule.
//
// Time is "HH:MM" in Timezone; Timezone is an IANA zone name.
type ScheduleConfig struct {
	Time     string `json:"time,omitempty"`     // default: "09:00"
	Timezone string `json:"timezone,omitempty"` // default: "Asia/Kolkata"
}

type ContentConfig struct {
	// QuoteURL overrides the quote API endpoint (mainly for tests).
	QuoteURL string `json:"quote_url,omitempty"`
	AdText   string `json:"ad_text,omitempty"`
	AdLink   string `json:"ad_link,omitempty"`
}

// ReviewConfig controls the human review gate.
//
// PostNow selects /post_now behavior: "direct" publishes immediately,
// "review" sends a preview with an approve button to the operator first.
type ReviewConfig struct {
	PostNow string `json:"post_now,omitempty"` // "direct" (default) or "review"
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./quotebot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

const (
	DefaultScheduleTime = "09:00"
	DefaultTimezone     = "Asia/Kolkata"
)

// Validate checks the parts of the config the bot cannot run without.
// Token and channel are fatal; everything else has defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		return errors.New("telegram.channel is required")
	}
	if s := strings.TrimSpace(c.Schedule.Time); s != "" {
		if _, _, err := ParseClock(s); err != nil {
			return fmt.Errorf("schedule.time: %w", err)
		}
	}
	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	if pn := strings.TrimSpace(c.Review.PostNow); pn != "" && pn != "direct" && pn != "review" {
		return fmt.Errorf("review.post_now: must be \"direct\" or \"review\", got %q", pn)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleClock returns the default schedule as (hour, minute, zone),
// applying defaults for omitted fields.
func (c *Config) ScheduleClock() (hour, minute int, tz string, err error) {
	t := strings.TrimSpace(c.Schedule.Time)
	if t == "" {
		t = DefaultScheduleTime
	}
	tz = strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	hour, minute, err = ParseClock(t)
	return hour, minute, tz, err
}

// ParseClock parses a "HH:MM" 24-hour wall clock string. The whole string
// must be the clock value; trailing garbage is rejected.
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok {
		h, herr := strconv.Atoi(hs)
		m, merr := strconv.Atoi(ms)
		if herr == nil && merr == nil && h >= 0 && h <= 23 && m >= 0 && m <= 59 {
			return h, m, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
}
