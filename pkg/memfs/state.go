package memfs

import "sync/atomic"

// State is the lifecycle phase of a memfs Context.
type State int32

const (
	StatePreparing State = iota
	StateStarting
	StateRunning
	StatePreExiting
	StateExiting
	StateExited
)

func (s State) String() string {
	switch s {
	case StatePreparing:
		return "PREPARING"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StatePreExiting:
		return "PRE_EXITING"
	case StateExiting:
		return "EXITING"
	case StateExited:
		return "EXITED"
	default:
		return "UNKNOWN"
	}
}

// Startup progress checkpoints reported while STARTING.
const (
	ProgressBegin    = 0
	ProgressPool     = 25
	ProgressRoot     = 50
	ProgressEvictor  = 75
	ProgressComplete = 100
)

// StateMachine tracks the lifecycle. Transitions only move forward.
type StateMachine struct {
	state    atomic.Int32
	progress atomic.Int32
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	return State(m.state.Load())
}

// Transition moves to next if it is later than the current state. It
// reports false, changing nothing, otherwise.
func (m *StateMachine) Transition(next State) bool {
	for {
		cur := m.state.Load()
		if int32(next) <= cur || next > StateExited {
			return false
		}
		if m.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// SetProgress records startup progress. It only applies while STARTING and
// never decreases.
func (m *StateMachine) SetProgress(p int32) bool {
	if m.Current() != StateStarting || p < 0 || p > ProgressComplete {
		return false
	}
	for {
		cur := m.progress.Load()
		if p < cur {
			return false
		}
		if m.progress.CompareAndSwap(cur, p) {
			return true
		}
	}
}

// Progress returns the last recorded startup progress.
func (m *StateMachine) Progress() int32 {
	return m.progress.Load()
}
