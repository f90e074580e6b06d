package storage

import (
	"context"
	"errors"
	"strings"

	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

// Store is the persistence API used by the registry.
type Store interface {
	PutTaskState(ctx context.Context, snap task.Snapshot) error
	GetTaskState(ctx context.Context, id string) (task.Snapshot, bool, error)
	ListTaskStates(ctx context.Context) ([]task.Snapshot, error)
	DeleteTaskState(ctx context.Context, id string) error
	AppendCompletion(ctx context.Context, e CompletionEntry) error
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
