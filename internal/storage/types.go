package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At      time.Time
	ActorID int64
	ChatID  int64
	Action  string
	Target  string
	Error   string
	TookMS  int64
}

// PostRecord records one published channel post.
type PostRecord struct {
	At        time.Time
	Dest      string
	Quote     string
	Author    string
	MessageID int
	Mode      string // "scheduled", "direct" or "review"
}
