package backup

import "time"

// Metrics receives backup pipeline observations. A nil Metrics disables
// collection.
type Metrics interface {
	// ObserveUpload records one upload attempt to a target.
	ObserveUpload(target string, bytes uint64, duration time.Duration, err error)
	// RecordUploadSkipped counts uploads skipped because the target is current.
	RecordUploadSkipped(target string)
	// RecordStageConflict counts uploads that found another writer's stage.
	RecordStageConflict(target string)
	// ObservePreload records one finished preload.
	ObservePreload(bytes uint64, shards int, duration time.Duration, err error)
}

func observeUpload(m Metrics, target string, bytes uint64, d time.Duration, err error) {
	if m != nil {
		m.ObserveUpload(target, bytes, d, err)
	}
}

func recordUploadSkipped(m Metrics, target string) {
	if m != nil {
		m.RecordUploadSkipped(target)
	}
}

func recordStageConflict(m Metrics, target string) {
	if m != nil {
		m.RecordStageConflict(target)
	}
}

func observePreload(m Metrics, bytes uint64, shards int, d time.Duration, err error) {
	if m != nil {
		m.ObservePreload(bytes, shards, d, err)
	}
}
