package memfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	names := map[State]string{
		StatePreparing:  "PREPARING",
		StateStarting:   "STARTING",
		StateRunning:    "RUNNING",
		StatePreExiting: "PRE_EXITING",
		StateExiting:    "EXITING",
		StateExited:     "EXITED",
		State(42):       "UNKNOWN",
	}
	for s, want := range names {
		assert.Equal(t, want, s.String())
	}
}

func TestStateMachine_TransitionsOnlyMoveForward(t *testing.T) {
	var m StateMachine
	assert.Equal(t, StatePreparing, m.Current())

	assert.False(t, m.SetProgress(25), "progress only applies while starting")
	assert.True(t, m.Transition(StateStarting))
	assert.False(t, m.Transition(StateStarting))

	assert.True(t, m.SetProgress(ProgressPool))
	assert.True(t, m.SetProgress(ProgressRoot))
	assert.False(t, m.SetProgress(ProgressPool), "progress never decreases")
	assert.False(t, m.SetProgress(101))
	assert.Equal(t, int32(ProgressRoot), m.Progress())

	assert.True(t, m.Transition(StateRunning))
	assert.False(t, m.Transition(StatePreparing))
	assert.True(t, m.Transition(StateExited), "skipping ahead is allowed")
	assert.False(t, m.Transition(State(42)))
	assert.Equal(t, StateExited, m.Current())
}
