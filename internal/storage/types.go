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

// CompletionEntry records one task completion.
// Keep it compact and schema-stable.
type CompletionEntry struct {
	At          time.Time `json:"at"`
	TaskID      string    `json:"task_id"`
	TaskName    string    `json:"task_name,omitempty"`
	DueWas      string    `json:"due_was,omitempty"` // RFC 3339; the due date being cleared
	OverdueDays int       `json:"overdue_days,omitempty"`
	Source      string    `json:"source,omitempty"` // "api", "sweep", ...
}
