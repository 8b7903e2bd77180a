package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.yaml", `
telegram:
  token: "123:abc"
  channel: "@quotes"
  owner_user_ids: [42]
logging:
  level: INFO
  console: true
  file:
    enabled: false
    path: ""
schedule:
  time: "09:00"
  timezone: "Asia/Kolkata"
content:
  ad_text: "Join us"
  ad_link: "https://example.com"
`)

	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Channel != "@quotes" {
		t.Fatalf("channel = %q", cfg.Telegram.Channel)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 || cfg.Telegram.OwnerUserIDs[0] != 42 {
		t.Fatalf("owners = %v", cfg.Telegram.OwnerUserIDs)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "config.yaml", `
telegram:
  token: "t"
  channel: "@c"
bogus_section:
  x: 1
`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"missing channel", func(c *Config) { c.Telegram.Channel = "" }, "telegram.channel"},
		{"bad time", func(c *Config) { c.Schedule.Time = "25:00" }, "schedule.time"},
		{"bad zone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, "schedule.timezone"},
		{"bad post_now", func(c *Config) { c.Review.PostNow = "maybe" }, "review.post_now"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{
				Telegram: TelegramConfig{Token: "t", Channel: "@c"},
				Schedule: ScheduleConfig{Time: "09:00", Timezone: "UTC"},
			}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want contains %q", err, tc.wantErr)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	good := map[string][2]int{
		"09:00":  {9, 0},
		"23:59":  {23, 59},
		"0:5":    {0, 5},
		" 12:30": {12, 30},
	}
	for in, want := range good {
		h, m, err := ParseClock(in)
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", in, err)
		}
		if h != want[0] || m != want[1] {
			t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", in, h, m, want[0], want[1])
		}
	}
	for _, in := range []string{"", "9", "24:00", "12:60", "ab:cd", "09:30x", "09:30:00", "x09:30"} {
		if _, _, err := ParseClock(in); err == nil {
			t.Fatalf("ParseClock(%q): expected error", in)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("f", " 10s "); err != nil || d != 10*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("f", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	for _, raw := range []string{"nope", "-5s"} {
		if _, err := ParseDurationField("f", raw); err == nil {
			t.Fatalf("ParseDurationField(%q): expected error", raw)
		}
	}
	if d, err := ParseDurationOrDefault("f", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("default: got %v, %v", d, err)
	}
}

func TestScheduleClockDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	h, m, tz, err := cfg.ScheduleClock()
	if err != nil {
		t.Fatal(err)
	}
	if h != 9 || m != 0 || tz != "Asia/Kolkata" {
		t.Fatalf("got %d:%d %s", h, m, tz)
	}
}
