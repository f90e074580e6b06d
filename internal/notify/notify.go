// Package notify delivers overdue-task alerts through a pluggable sender.
//
// The pipeline is asynchronous: alerts are queued, rate limited, deduplicated
// per task within a window, and retried with backoff on send failure. Publish
// never blocks the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Alert describes one overdue task at alert time.
type Alert struct {
	TaskID      string
	TaskName    string
	DueDate     time.Time
	OverdueDays int
	At          time.Time
}

// Text renders the alert message.
func (a Alert) Text() string {
	name := a.TaskName
	if name == "" {
		name = a.TaskID
	}
	switch {
	case a.OverdueDays == 1:
		return fmt.Sprintf("⚠️ %s is 1 day overdue (due %s)", name, a.DueDate.Format("Mon 2 Jan"))
	case a.OverdueDays > 1:
		return fmt.Sprintf("⚠️ %s is %d days overdue (due %s)", name, a.OverdueDays, a.DueDate.Format("Mon 2 Jan"))
	default:
		return fmt.Sprintf("ℹ️ %s is due today", name)
	}
}

// Sender delivers a rendered alert to its destination.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Config tunes the pipeline. Zero values select the documented defaults.
type Config struct {
	Enabled bool

	Workers    int           // default 1
	QueueSize  int           // default 64
	RatePerSec int           // default 1
	RetryMax   int           // extra attempts after the first; default 2
	RetryBase  time.Duration // default 500ms
	RetryMaxD  time.Duration // default 10s

	// DedupWindow suppresses repeat alerts for the same task. 0 disables
	// suppression (every sweep re-alerts).
	DedupWindow time.Duration
}
