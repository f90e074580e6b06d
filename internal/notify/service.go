package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskassistant/internal/metrics"
	logx "taskassistant/pkg/logx"
)

type job struct {
	alert Alert
	text  string
}

// Service implements the alert pipeline: queue + workers + rate limit +
// dedup + retry. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	pubWG     sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// Per-task suppression: task id -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxD <= 0 {
		cfg.RetryMaxD = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so a sweep with several overdue
	// tasks doesn't stall the worker on the first message.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			s.workerLoop()
		}()
	}
}

// Stop blocks new alerts and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight publishes before closing the queue.
	ch := make(chan struct{})
	go func() {
		s.pubWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	close(q)

	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCtx = nil
	s.runCancel = nil
	s.mu.Unlock()
}

// Publish enqueues an alert. It never blocks: a full queue drops the alert
// and returns ErrQueueFull.
func (s *Service) Publish(ctx context.Context, a Alert) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	s.pubWG.Add(1)
	s.mu.Unlock()
	defer s.pubWG.Done()

	if window > 0 && a.TaskID != "" {
		if !s.dedupAllow(a.TaskID, window) {
			metrics.RecordNotificationDropped()
			return nil
		}
	}

	select {
	case q <- job{alert: a, text: a.Text()}:
		return nil
	default:
		metrics.RecordNotificationDropped()
		s.log.Warn("alert dropped", logx.String("task", a.TaskID), logx.Err(ErrQueueFull))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.sendWithRetry(runCtx, j)
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()

	if sender == nil || j.text == "" {
		return
	}
	if runCtx == nil {
		runCtx = context.Background()
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(runCtx); err != nil {
				return
			}
		}

		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		err := sender.Send(callCtx, j.text)
		cancel()
		if err == nil {
			metrics.RecordNotificationSent()
			return
		}
		lastErr = err
		s.log.Debug("alert send failed",
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		metrics.RecordNotificationDropped()
		s.log.Warn("alert gave up",
			logx.String("task", j.alert.TaskID), logx.Err(lastErr))
	}
}

func (s *Service) dedupAllow(id string, window time.Duration) bool {
	now := time.Now()

	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	if until, ok := s.dedup[id]; ok && now.Before(until) {
		return false
	}
	s.dedup[id] = now.Add(window)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	return true
}

// ClearDedup lifts the suppression for a task, so a completion followed by a
// new overdue period alerts again immediately.
func (s *Service) ClearDedup(id string) {
	s.dmu.Lock()
	delete(s.dedup, id)
	s.dmu.Unlock()
}

// Exponential backoff: base * 2^(attempt-1), capped.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxD {
			return cfg.RetryMaxD
		}
	}
	return d
}
