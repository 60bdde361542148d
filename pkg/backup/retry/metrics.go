package retry

import "time"

// Metrics receives retry pool observations. A nil Metrics disables
// collection.
type Metrics interface {
	// ObserveTask records one task run.
	ObserveTask(pool string, ok bool, duration time.Duration)
	// RecordQueueDepth records queued plus delayed tasks.
	RecordQueueDepth(pool string, depth int)
	// SetCCAE records whether the alarm is raised.
	SetCCAE(pool string, raised bool)
	// RecordDiscarded counts a task dropped after exhausting its retries.
	RecordDiscarded(pool string)
}

func observeTask(m Metrics, pool string, ok bool, d time.Duration) {
	if m != nil {
		m.ObserveTask(pool, ok, d)
	}
}

func recordQueueDepth(m Metrics, pool string, depth int) {
	if m != nil {
		m.RecordQueueDepth(pool, depth)
	}
}

func setCCAE(m Metrics, pool string, raised bool) {
	if m != nil {
		m.SetCCAE(pool, raised)
	}
}

func recordDiscarded(m Metrics, pool string) {
	if m != nil {
		m.RecordDiscarded(pool)
	}
}
