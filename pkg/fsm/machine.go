package fsm

import (
	"fmt"
	"sync/atomic"
)

// State is the lifecycle state of a single script invocation.
// The values are ordered: a run only ever moves towards higher values.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopping
	StateScriptDone
	StateExecutionDone
	StateFailed
)

var stateNames = [...]string{
	StateUninitialized: "UNINITIALIZED",
	StateInitialized:   "INITIALIZED",
	StateRunning:       "RUNNING",
	StateStopping:      "STOPPING",
	StateScriptDone:    "SCRIPT_DONE",
	StateExecutionDone: "EXECUTION_DONE",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("STATE(%d)", int32(s))
}

// IsTerminal reports whether a run in this state has ended.
func (s State) IsTerminal() bool {
	return s >= StateScriptDone
}

// Machine tracks the State of one invocation.
//
// Advance never moves the state backwards, even when several goroutines
// report progress concurrently. Reset is the only way back to
// StateUninitialized and must only be used while no run is in flight.
type Machine struct {
	current atomic.Int32
}

func New() *Machine {
	return &Machine{}
}

// Current returns the last applied state. It is a liveness read: callers
// polling from other goroutines may see a slightly stale value, never one
// that is ahead of the real state.
func (m *Machine) Current() State {
	return State(m.current.Load())
}

// Advance moves the machine to next if next is strictly greater than the
// current state. It returns false when the transition was ignored.
func (m *Machine) Advance(next State) bool {
	for {
		cur := m.current.Load()
		if int32(next) <= cur {
			return false
		}
		if m.current.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Reset forces the machine back to StateUninitialized.
func (m *Machine) Reset() {
	m.current.Store(int32(StateUninitialized))
}

// IsActive reports whether a run is initialized, running or stopping.
func (m *Machine) IsActive() bool {
	s := m.Current()
	return s > StateUninitialized && s < StateScriptDone
}

func (m *Machine) IsRunning() bool {
	return m.Current() == StateRunning
}

func (m *Machine) IsStopping() bool {
	return m.Current() == StateStopping
}

// Personal.AI order the ending
