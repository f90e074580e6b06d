package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskassistant/internal/eventbus"
	"taskassistant/internal/notify"
	"taskassistant/internal/recurrence"
	"taskassistant/internal/storage"
	"taskassistant/internal/task"
	logx "taskassistant/pkg/logx"
)

var ErrUnknownTask = errors.New("unknown task")

// Config controls the registry service.
type Config struct {
	// RefreshEvery is the sweep cadence (default 30s).
	RefreshEvery time.Duration
	// Timezone is the IANA TZ for the sweep schedule; empty means local.
	Timezone string
}

// Definition is one configured task: identity plus its recurrence rule.
type Definition struct {
	ID        string
	Name      string
	Rule      recurrence.Rule
	StartDate time.Time
}

type entry struct {
	def Definition
	tk  *task.Task
}

// Service owns the live task set. Definitions come from config (Apply),
// state transitions come from the API and the periodic refresh sweep.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	bus    eventbus.Bus
	store  storage.Store
	alerts *notify.Service

	tasks map[string]*entry
	order []string // insertion order, for stable listings

	loc     *time.Location
	c       *cron.Cron
	entryID cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc

	// now is a seam for tests; defaults to time.Now.
	now func() time.Time
}

// TaskInfo pairs a task's definition with its current state.
type TaskInfo struct {
	ID        string
	Name      string
	Rule      recurrence.Rule
	StartDate time.Time
	State     task.Snapshot
}

// Snapshot is a point-in-time view of the whole registry.
type Snapshot struct {
	Timezone     string
	RefreshEvery time.Duration
	NextSweep    time.Time
	Tasks        []TaskInfo
}
