// Package retry runs idempotent background tasks on a fixed set of workers
// and retries the ones that fail.
//
// A task that keeps failing is retried on an exponential schedule. Once it
// has failed RetryTimes times in a row the pool raises a CCAE (customer care
// alarm event): a sentinel file under <WorkPath>/ccae that external
// monitoring watches. When enough tasks are stuck the pool also reports the
// memfs as not serviceable. A later success clears both.
package retry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/marmos91/ckptfs/internal/logger"
)

// ErrStopped is returned by Submit when the pool is not running.
var ErrStopped = errors.New("retry pool is not running")

const (
	defaultThreads       = 4
	defaultRetryTimes    = 3
	defaultRetryInterval = time.Second
	ccaeDir              = "ccae"
)

// Func is the body of a task. It reports whether the task succeeded and
// must be safe to run again after a failure.
type Func func(ctx context.Context) bool

// Task is one unit of work.
type Task struct {
	// Name identifies the task in logs, usually the file path.
	Name string

	// Size is the number of bytes the task moves. Tasks above the pool's
	// AutoEvictFile threshold are dropped once their retries are exhausted.
	Size uint64

	// Run performs the work.
	Run Func

	// OnDiscard, if set, is called when the task is dropped without
	// succeeding.
	OnDiscard func()

	id        string
	failures  int
	exhausted bool
	backoff   *backoff.ExponentialBackOff
}

// ID returns the id assigned by Submit.
func (t *Task) ID() string { return t.id }

// Config configures a Pool.
type Config struct {
	// Name is the pool name. It names the CCAE sentinel file.
	Name string

	// Threads is the number of worker goroutines.
	Threads int

	// RetryTimes is the number of consecutive failures after which a task
	// raises the alarm.
	RetryTimes int

	// RetryInterval is the first retry delay. Later delays double up to
	// MaxRetryInterval.
	RetryInterval time.Duration

	// MaxRetryInterval caps the retry delay. Defaults to 8x RetryInterval.
	MaxRetryInterval time.Duration

	// FirstWait delays the first run of every submitted task.
	FirstWait time.Duration

	// MaxFailCountForUnserviceable is the number of exhausted tasks at
	// which the memfs is reported not serviceable. Zero disables it.
	MaxFailCountForUnserviceable int

	// AutoEvictFile is the size above which exhausted tasks are dropped
	// instead of retried forever. Zero disables it.
	AutoEvictFile uint64

	// WorkPath is the directory holding the ccae directory. When empty the
	// alarm is only logged.
	WorkPath string
}

// HealthReporter receives serviceability changes. *memfs.Context
// implements it.
type HealthReporter interface {
	Serviceable(ok bool)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted int
	Succeeded int
	Retried   int
	Discarded int
	Failing   int
	Pending   int
	Alarm     bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// Pool is a fixed-size worker pool with retries.
type Pool struct {
	cfg     Config
	health  HealthReporter
	metrics Metrics

	// alarmMu serializes sentinel updates so they land in decision order.
	alarmMu sync.Mutex

	mu            sync.Mutex
	queue         []*Task
	timers        map[*Task]*time.Timer
	started       bool
	stopped       bool
	alarm         bool
	wantAlarm     bool
	unserviceable bool
	failing       int
	stats         Stats

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
}

// NewPool creates a stopped pool. health may be nil.
func NewPool(cfg Config, health HealthReporter, opts ...Option) *Pool {
	if cfg.Name == "" {
		cfg.Name = "backup"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = defaultThreads
	}
	if cfg.RetryTimes <= 0 {
		cfg.RetryTimes = defaultRetryTimes
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.MaxRetryInterval < cfg.RetryInterval {
		cfg.MaxRetryInterval = 8 * cfg.RetryInterval
	}
	p := &Pool{
		cfg:    cfg,
		health: health,
		timers: make(map[*Task]*time.Timer),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// Start launches the workers. Tasks run with a context that is canceled by
// Stop, not by ctx.
func (p *Pool) Start(_ context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.runCtx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	logger.Info("Starting retry pool", logger.KeyPool, p.cfg.Name, "threads", p.cfg.Threads)
	for i := 0; i < p.cfg.Threads; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop cancels running tasks, drops queued and delayed ones and waits for
// the workers to exit, up to timeout.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	dropped := len(p.queue) + len(p.timers)
	for t, timer := range p.timers {
		timer.Stop()
		delete(p.timers, t)
	}
	p.queue = nil
	p.mu.Unlock()

	logger.Info("Stopping retry pool", logger.KeyPool, p.cfg.Name, "dropped", dropped)
	close(p.stopCh)
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("Retry pool stopped", logger.KeyPool, p.cfg.Name)
	case <-time.After(timeout):
		logger.Warn("Retry pool stop timed out", logger.KeyPool, p.cfg.Name)
	}
}

// Submit schedules t. The first run happens after FirstWait.
func (p *Pool) Submit(t *Task) error {
	if t == nil || t.Run == nil {
		return fmt.Errorf("submit to %s: task has no body", p.cfg.Name)
	}
	t.id = uuid.NewString()
	t.failures = 0
	t.exhausted = false
	t.backoff = p.newBackoff()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return ErrStopped
	}
	p.stats.Submitted++
	p.scheduleLocked(t, p.cfg.FirstWait)
	return nil
}

func (p *Pool) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryInterval
	b.MaxInterval = p.cfg.MaxRetryInterval
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// scheduleLocked queues t now or after delay. Caller holds mu.
func (p *Pool) scheduleLocked(t *Task, delay time.Duration) {
	if delay <= 0 {
		p.queue = append(p.queue, t)
		p.signal()
		recordQueueDepth(p.metrics, p.cfg.Name, len(p.queue)+len(p.timers))
		return
	}
	p.timers[t] = time.AfterFunc(delay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.timers[t]; !ok {
			return
		}
		delete(p.timers, t)
		p.queue = append(p.queue, t)
		p.signal()
	})
	recordQueueDepth(p.metrics, p.cfg.Name, len(p.queue)+len(p.timers))
}

func (p *Pool) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) pop() *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil
	}
	t := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	if len(p.queue) > 0 {
		p.signal()
	}
	return t
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logger.Debug("Retry pool worker started", logger.KeyPool, p.cfg.Name, "worker", id)

	for {
		if t := p.pop(); t != nil {
			p.execute(t)
			continue
		}
		select {
		case <-p.wake:
		case <-p.stopCh:
			logger.Debug("Retry pool worker stopped", logger.KeyPool, p.cfg.Name, "worker", id)
			return
		}
	}
}

func (p *Pool) execute(t *Task) {
	start := time.Now()
	ok := t.Run(p.runCtx)
	observeTask(p.metrics, p.cfg.Name, ok, time.Since(start))
	if ok {
		p.succeeded(t)
		return
	}
	p.failed(t)
}

func (p *Pool) succeeded(t *Task) {
	p.mu.Lock()
	p.stats.Succeeded++
	if t.exhausted {
		p.failing--
	}
	clearAlarm := p.wantAlarm && p.failing == 0
	if clearAlarm {
		p.wantAlarm = false
	}
	restore := p.unserviceable && (p.cfg.MaxFailCountForUnserviceable <= 0 || p.failing < p.cfg.MaxFailCountForUnserviceable)
	if restore {
		p.unserviceable = false
	}
	p.mu.Unlock()

	logger.Debug("Retry task succeeded", logger.KeyPool, p.cfg.Name, logger.KeyTaskID, t.id, logger.KeyPath, t.Name, logger.KeyAttempt, t.failures+1)
	if clearAlarm {
		if err := p.syncAlarm(); err != nil {
			logger.Warn("Clearing CCAE failed", logger.KeyPool, p.cfg.Name, logger.KeyError, err)
		}
	}
	if restore && p.health != nil {
		p.health.Serviceable(true)
	}
}

func (p *Pool) failed(t *Task) {
	t.failures++

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	exhaustedNow := !t.exhausted && t.failures >= p.cfg.RetryTimes
	discard := exhaustedNow && p.cfg.AutoEvictFile > 0 && t.Size > p.cfg.AutoEvictFile
	raise := false
	degrade := false
	switch {
	case discard:
		p.stats.Discarded++
		raise = true
	case exhaustedNow:
		t.exhausted = true
		p.failing++
		raise = true
		if limit := p.cfg.MaxFailCountForUnserviceable; limit > 0 && p.failing >= limit && !p.unserviceable {
			p.unserviceable = true
			degrade = true
		}
	}
	if raise {
		p.wantAlarm = true
	}
	if !discard {
		p.stats.Retried++
		p.scheduleLocked(t, t.backoff.NextBackOff())
	}
	failing := p.failing
	p.mu.Unlock()

	logger.Warn("Retry task failed",
		logger.KeyPool, p.cfg.Name,
		logger.KeyTaskID, t.id,
		logger.KeyPath, t.Name,
		logger.KeyAttempt, t.failures,
		logger.KeyMaxRetries, p.cfg.RetryTimes,
		logger.KeyFailCount, failing)

	if raise {
		if err := p.syncAlarm(); err != nil {
			logger.Error("Raising CCAE failed", logger.KeyPool, p.cfg.Name, logger.KeyError, err)
		}
	}
	if degrade && p.health != nil {
		p.health.Serviceable(false)
	}
	if discard {
		recordDiscarded(p.metrics, p.cfg.Name)
		logger.Error("Retry task discarded",
			logger.KeyPool, p.cfg.Name,
			logger.KeyTaskID, t.id,
			logger.KeyPath, t.Name,
			logger.KeySize, t.Size)
		if t.OnDiscard != nil {
			t.OnDiscard()
		}
	}
}

// CCAEPath returns the sentinel file path, or "" without a work path.
func (p *Pool) CCAEPath() string {
	if p.cfg.WorkPath == "" {
		return ""
	}
	return filepath.Join(p.cfg.WorkPath, ccaeDir, p.cfg.Name)
}

// ReportCCAE raises or clears the alarm. It is idempotent and creates the
// ccae directory when needed.
func (p *Pool) ReportCCAE(alarm bool) error {
	p.mu.Lock()
	p.wantAlarm = alarm
	p.mu.Unlock()
	return p.syncAlarm()
}

// syncAlarm brings the sentinel and gauge in line with the latest wanted
// state. The state is read under alarmMu, so the last writer always applies
// the newest decision.
func (p *Pool) syncAlarm() error {
	p.alarmMu.Lock()
	defer p.alarmMu.Unlock()

	p.mu.Lock()
	alarm := p.wantAlarm
	changed := p.alarm != alarm
	p.alarm = alarm
	p.mu.Unlock()

	if changed {
		setCCAE(p.metrics, p.cfg.Name, alarm)
		if alarm {
			logger.Error("CCAE raised", logger.KeyPool, p.cfg.Name)
		} else {
			logger.Info("CCAE cleared", logger.KeyPool, p.cfg.Name)
		}
	}

	sentinel := p.CCAEPath()
	if sentinel == "" {
		return nil
	}
	if !alarm {
		if err := os.Remove(sentinel); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove ccae sentinel: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(sentinel), 0o755); err != nil {
		return fmt.Errorf("create ccae directory: %w", err)
	}
	f, err := os.OpenFile(sentinel, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create ccae sentinel: %w", err)
	}
	return f.Close()
}

// Alarm reports whether the CCAE is raised.
func (p *Pool) Alarm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alarm
}

// Pending returns the number of queued and delayed tasks.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.timers)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Failing = p.failing
	s.Pending = len(p.queue) + len(p.timers)
	s.Alarm = p.alarm
	return s
}
