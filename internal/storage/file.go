package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.completions.jsonl    (append-only JSON Lines)
//   - <prefix>.state.snapshot.json  (periodic snapshot)
//   - <prefix>.state.journal.jsonl  (append-only journal)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	completionsFile *os.File

	stateSnapshotPath string
	stateJournalFile  *os.File
	state             map[string]task.Snapshot

	stateWrites int
}

const compactEvery = 200

type stateRecord struct {
	Op   string         `json:"op"` // "put" or "del"
	ID   string         `json:"id,omitempty"`
	Snap *task.Snapshot `json:"snap,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	completionsPath := prefix + ".completions.jsonl"
	snapPath := prefix + ".state.snapshot.json"
	journalPath := prefix + ".state.journal.jsonl"

	cf, err := os.OpenFile(completionsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	// Load state from snapshot + journal.
	state := map[string]task.Snapshot{}
	_ = loadStateSnapshot(snapPath, state)
	_ = replayStateJournal(journalPath, state)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = cf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		completionsFile:   cf,
		stateSnapshotPath: snapPath,
		stateJournalFile:  jf,
		state:             state,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.completionsFile != nil {
		err1 = s.completionsFile.Close()
		s.completionsFile = nil
	}
	if s.stateJournalFile != nil {
		err2 = s.stateJournalFile.Close()
		s.stateJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendCompletion(ctx context.Context, e CompletionEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completionsFile == nil {
		return errors.New("completions file closed")
	}
	return json.NewEncoder(s.completionsFile).Encode(e)
}

func (s *fileStore) PutTaskState(ctx context.Context, snap task.Snapshot) error {
	_ = ctx
	id := strings.TrimSpace(snap.ID)
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateJournalFile == nil {
		return errors.New("state journal closed")
	}
	if s.state == nil {
		s.state = map[string]task.Snapshot{}
	}
	s.state[id] = snap

	if err := json.NewEncoder(s.stateJournalFile).Encode(stateRecord{Op: "put", Snap: &snap}); err != nil {
		return err
	}
	return s.afterWriteLocked()
}

func (s *fileStore) DeleteTaskState(ctx context.Context, id string) error {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateJournalFile == nil {
		return errors.New("state journal closed")
	}
	delete(s.state, id)

	if err := json.NewEncoder(s.stateJournalFile).Encode(stateRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	return s.afterWriteLocked()
}

func (s *fileStore) GetTaskState(ctx context.Context, id string) (task.Snapshot, bool, error) {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return task.Snapshot{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.state[id]
	return snap, ok, nil
}

func (s *fileStore) ListTaskStates(ctx context.Context) ([]task.Snapshot, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Snapshot, 0, len(s.state))
	for _, snap := range s.state {
		out = append(out, snap)
	}
	return out, nil
}

func (s *fileStore) afterWriteLocked() error {
	s.stateWrites++
	if s.stateWrites%compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	if s.state == nil {
		return nil
	}

	tmp := s.stateSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.state); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.stateSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.stateJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.stateJournalFile.Seek(0, 2)
	return err
}

func loadStateSnapshot(path string, out map[string]task.Snapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]task.Snapshot
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayStateJournal(path string, out map[string]task.Snapshot) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r stateRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "put":
			if r.Snap != nil && r.Snap.ID != "" {
				out[r.Snap.ID] = *r.Snap
			}
		case "del":
			if r.ID != "" {
				delete(out, r.ID)
			}
		}
	}
	return sc.Err()
}
