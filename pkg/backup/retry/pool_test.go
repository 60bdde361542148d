package retry

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type healthRecorder struct {
	mu     sync.Mutex
	values []bool
}

func (h *healthRecorder) Serviceable(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values = append(h.values, ok)
}

func (h *healthRecorder) last() (bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.values) == 0 {
		return false, false
	}
	return h.values[len(h.values)-1], true
}

func newTestPool(t *testing.T, cfg Config, health HealthReporter) *Pool {
	t.Helper()
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Millisecond
	}
	p := NewPool(cfg, health)
	p.Start(context.Background())
	t.Cleanup(func() { p.Stop(time.Second) })
	return p
}

// flakyTask fails until healthy is set.
func flakyTask(healthy *atomic.Bool, runs *atomic.Int32) *Task {
	return &Task{
		Name: "/ckpt/model.pt",
		Run: func(ctx context.Context) bool {
			runs.Add(1)
			return healthy.Load()
		},
	}
}

func TestPool_RunsTaskOnce(t *testing.T) {
	p := newTestPool(t, Config{Threads: 2}, nil)

	var runs atomic.Int32
	task := &Task{Name: "ok", Run: func(context.Context) bool { runs.Add(1); return true }}
	require.NoError(t, p.Submit(task))
	assert.NotEmpty(t, task.ID())

	require.Eventually(t, func() bool { return p.Stats().Succeeded == 1 }, waitFor, tick)
	assert.Equal(t, int32(1), runs.Load())
	assert.Zero(t, p.Stats().Retried)
}

func TestPool_RetriesUntilSuccess(t *testing.T) {
	p := newTestPool(t, Config{RetryTimes: 5}, nil)

	var runs atomic.Int32
	task := &Task{Name: "flaky", Run: func(context.Context) bool { return runs.Add(1) >= 3 }}
	require.NoError(t, p.Submit(task))

	require.Eventually(t, func() bool { return p.Stats().Succeeded == 1 }, waitFor, tick)
	stats := p.Stats()
	assert.Equal(t, 2, stats.Retried)
	assert.False(t, stats.Alarm, "retries within budget raise no alarm")
	assert.Zero(t, stats.Pending)
}

func TestPool_ManyTasksAllWorkersDrain(t *testing.T) {
	p := newTestPool(t, Config{Threads: 4}, nil)

	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(&Task{Run: func(context.Context) bool { return true }}))
	}
	require.Eventually(t, func() bool { return p.Stats().Succeeded == 100 }, waitFor, tick)
}

func TestPool_CCAERaisedAndCleared(t *testing.T) {
	work := t.TempDir()
	health := &healthRecorder{}
	p := newTestPool(t, Config{
		Name:                         "uploads",
		RetryTimes:                   2,
		MaxFailCountForUnserviceable: 1,
		WorkPath:                     work,
	}, health)
	sentinel := filepath.Join(work, "ccae", "uploads")
	assert.Equal(t, sentinel, p.CCAEPath())

	var healthy atomic.Bool
	var runs atomic.Int32
	require.NoError(t, p.Submit(flakyTask(&healthy, &runs)))

	require.Eventually(t, func() bool { return p.Alarm() }, waitFor, tick)
	assert.FileExists(t, sentinel)
	require.Eventually(t, func() bool {
		v, ok := health.last()
		return ok && !v
	}, waitFor, tick)
	assert.Equal(t, 1, p.Stats().Failing)

	healthy.Store(true)
	require.Eventually(t, func() bool { return !p.Alarm() }, waitFor, tick)
	assert.NoFileExists(t, sentinel)
	require.Eventually(t, func() bool {
		v, ok := health.last()
		return ok && v
	}, waitFor, tick)
	assert.Zero(t, p.Stats().Failing)
}

func TestPool_AutoEvictFile(t *testing.T) {
	p := newTestPool(t, Config{RetryTimes: 1, AutoEvictFile: 10}, nil)

	var discarded atomic.Bool
	big := &Task{
		Name:      "big",
		Size:      100,
		Run:       func(context.Context) bool { return false },
		OnDiscard: func() { discarded.Store(true) },
	}
	var smallRuns atomic.Int32
	small := &Task{
		Name: "small",
		Size: 5,
		Run:  func(context.Context) bool { smallRuns.Add(1); return false },
	}
	require.NoError(t, p.Submit(big))
	require.NoError(t, p.Submit(small))

	require.Eventually(t, discarded.Load, waitFor, tick)
	require.Eventually(t, func() bool { return smallRuns.Load() >= 3 }, waitFor, tick,
		"tasks under the threshold keep retrying")

	stats := p.Stats()
	assert.Equal(t, 1, stats.Discarded)
	assert.True(t, stats.Alarm)
	assert.Equal(t, 1, stats.Failing)
}

func TestPool_ReportCCAEIdempotent(t *testing.T) {
	work := t.TempDir()
	p := NewPool(Config{Name: "p", WorkPath: work}, nil)

	require.NoError(t, p.ReportCCAE(true))
	require.NoError(t, p.ReportCCAE(true))
	assert.FileExists(t, filepath.Join(work, "ccae", "p"))
	assert.True(t, p.Alarm())

	require.NoError(t, p.ReportCCAE(false))
	require.NoError(t, p.ReportCCAE(false))
	assert.NoFileExists(t, filepath.Join(work, "ccae", "p"))

	bare := NewPool(Config{}, nil)
	assert.Empty(t, bare.CCAEPath())
	require.NoError(t, bare.ReportCCAE(true))
	assert.Equal(t, "backup", bare.Name())
}

func TestPool_CCAEFollowsLatestDecision(t *testing.T) {
	// A recovery and a fresh exhaustion race; whichever order they land in,
	// a failing task must leave the sentinel in place.
	for round := range 100 {
		work := t.TempDir()
		p := NewPool(Config{Name: "p", WorkPath: work, RetryTimes: 1, RetryInterval: time.Hour}, nil)

		recovering := &Task{Name: "/a", backoff: p.newBackoff(), failures: 1, exhausted: true}
		p.mu.Lock()
		p.failing = 1
		p.mu.Unlock()
		require.NoError(t, p.ReportCCAE(true))

		exhausting := &Task{Name: "/b", backoff: p.newBackoff()}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.succeeded(recovering)
		}()
		go func() {
			defer wg.Done()
			p.failed(exhausting)
		}()
		wg.Wait()

		require.Equal(t, 1, p.Stats().Failing, "round %d", round)
		require.True(t, p.Alarm(), "round %d", round)
		require.FileExists(t, filepath.Join(work, "ccae", "p"), "round %d", round)
	}
}

func TestPool_CCAEClearsWhenLastFailureRecovers(t *testing.T) {
	work := t.TempDir()
	p := NewPool(Config{Name: "p", WorkPath: work, RetryTimes: 1, RetryInterval: time.Hour}, nil)

	task := &Task{Name: "/a", backoff: p.newBackoff()}
	p.failed(task)
	assert.FileExists(t, filepath.Join(work, "ccae", "p"))

	p.succeeded(task)
	assert.False(t, p.Alarm())
	assert.NoFileExists(t, filepath.Join(work, "ccae", "p"))
}

func TestPool_SubmitRequiresRunningPool(t *testing.T) {
	p := NewPool(Config{}, nil)
	task := &Task{Run: func(context.Context) bool { return true }}

	require.ErrorIs(t, p.Submit(task), ErrStopped)

	p.Start(context.Background())
	require.Error(t, p.Submit(&Task{}))
	p.Stop(time.Second)
	require.ErrorIs(t, p.Submit(task), ErrStopped)
	p.Stop(time.Second)
}

func TestPool_StopCancelsRunningTasks(t *testing.T) {
	p := NewPool(Config{Threads: 1, RetryInterval: time.Hour}, nil)
	p.Start(context.Background())

	started := make(chan struct{})
	var canceled atomic.Bool
	require.NoError(t, p.Submit(&Task{Run: func(ctx context.Context) bool {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
		return false
	}}))
	<-started

	p.Stop(time.Second)
	assert.True(t, canceled.Load())
	assert.Zero(t, p.Pending(), "a failure after stop is not rescheduled")
}

func TestPool_FirstWaitDelaysFirstRun(t *testing.T) {
	p := newTestPool(t, Config{FirstWait: 50 * time.Millisecond}, nil)

	var ran atomic.Bool
	require.NoError(t, p.Submit(&Task{Run: func(context.Context) bool { ran.Store(true); return true }}))
	assert.Equal(t, 1, p.Pending())
	assert.False(t, ran.Load())

	require.Eventually(t, ran.Load, waitFor, tick)
}
