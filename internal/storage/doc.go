package storage

// Package storage persists task state across daemon restarts.
//
// It currently supports:
//   - Task state snapshots (last completion, cached due date)
//   - Append-only completion log (who finished what, when)
