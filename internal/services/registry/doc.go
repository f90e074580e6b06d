// Package registry owns the live set of recurring tasks.
//
// # Overview
//
// Task definitions come from config and are reconciled with Apply: new tasks
// are created (restoring persisted state when the store has some), changed
// ones are rebuilt and marked stale, removed ones are dropped. State
// transitions happen through the API (Complete, Refresh, Invalidate) and
// through a periodic refresh sweep that recomputes every task's due date and
// derived fields against the current clock.
//
// # Sweep
//
// The sweep runs on a cron "@every" schedule in the configured timezone. An
// immediate sweep runs at Start so restored tasks don't sit stale until the
// first tick. Overdue tasks found by a sweep are handed to the notifier,
// which handles per-task suppression.
//
// # Concurrency
//
// All task mutation happens under the service mutex; the underlying task
// values are never shared outside it. Snapshots returned by the API are
// copies.
package registry
