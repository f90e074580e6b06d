//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutTaskState(ctx context.Context, snap task.Snapshot) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	id := strings.TrimSpace(snap.ID)
	if id == "" {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_state(id, snapshot, updated_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET snapshot=excluded.snapshot, updated_at=excluded.updated_at`,
		id, string(b), time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) GetTaskState(ctx context.Context, id string) (task.Snapshot, bool, error) {
	if s == nil || s.db == nil {
		return task.Snapshot{}, false, ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return task.Snapshot{}, false, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM task_state WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Snapshot{}, false, nil
	}
	if err != nil {
		return task.Snapshot{}, false, err
	}
	var snap task.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return task.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *sqliteStore) ListTaskStates(ctx context.Context) ([]task.Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM task_state ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap task.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			s.log.Warn("skipping corrupt task_state row", logx.Err(err))
			continue
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteTaskState(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM task_state WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) AppendCompletion(ctx context.Context, e CompletionEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO completions(at, task_id, task_name, due_was, overdue_days, source)
		 VALUES(?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.TaskID, nullStr(e.TaskName), nullStr(e.DueWas), e.OverdueDays, nullStr(e.Source),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
