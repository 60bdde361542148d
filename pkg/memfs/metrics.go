package memfs

import "time"

// Metrics receives memfs observations. A nil Metrics disables collection.
type Metrics interface {
	// ObserveOperation records one namespace operation and its outcome.
	ObserveOperation(op string, err error)
	// RecordBlocks records pool occupancy.
	RecordBlocks(used, free uint64)
	// RecordOpenFiles records the number of allocated descriptors.
	RecordOpenFiles(n int)
	// ObserveEviction records one recycle pass.
	ObserveEviction(files int, bytes uint64, duration time.Duration)
}

func observeOperation(m Metrics, op string, err error) {
	if m != nil {
		m.ObserveOperation(op, err)
	}
}

func recordBlocks(m Metrics, used, free uint64) {
	if m != nil {
		m.RecordBlocks(used, free)
	}
}

func recordOpenFiles(m Metrics, n int) {
	if m != nil {
		m.RecordOpenFiles(n)
	}
}

func observeEviction(m Metrics, files int, bytes uint64, d time.Duration) {
	if m != nil {
		m.ObserveEviction(files, bytes, d)
	}
}
