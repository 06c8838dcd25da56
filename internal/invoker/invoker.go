package invoker

import (
	"sync/atomic"

	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/fsm"
)

// Handler observes the lifecycle of invocations.
//
// An Invoker does not own its Handler; the host keeps the handler alive for
// as long as any invoker refers to it. Only OnScriptInitialized influences
// control flow: returning false aborts startup.
type Handler interface {
	OnScriptStarted(inv *Invoker)
	OnScriptInitialized(inv *Invoker) bool
	OnScriptAbortRequested(inv *Invoker)
	// OnExecutionEnded is called for failed and for completed runs.
	OnExecutionEnded(inv *Invoker)
	OnScriptFinalized(inv *Invoker)
	PulseGlobalEvent()
}

// Runtime is the interpreter-specific half of an invocation.
//
// Execute runs script and reports progress through inv (Advance and the
// notification methods). slot is nil for cleanup-mode runs.
type Runtime interface {
	Execute(inv *Invoker, script string, args []string, slot cleanup.Slot) bool
	Stop(inv *Invoker, abort bool) bool
}

// Invoker runs scripts through a Runtime and tracks the resulting state.
type Invoker struct {
	id      atomic.Int64
	addon   atomic.Pointer[addon.Addon]
	state   *fsm.Machine
	handler Handler
	runtime Runtime
}

// New creates an Invoker. handler may be nil.
func New(handler Handler, rt Runtime) *Invoker {
	if rt == nil {
		panic("invoker: New called with nil Runtime")
	}
	inv := &Invoker{
		state:   fsm.New(),
		handler: handler,
		runtime: rt,
	}
	inv.id.Store(-1)
	return inv
}

// Execute notifies the handler that script is starting and hands it to the runtime.
// The result reports whether the runtime accepted the run; completion is
// observed through State.
func (inv *Invoker) Execute(script string, args []string, slot cleanup.Slot) bool {
	if inv.handler != nil {
		inv.handler.OnScriptStarted(inv)
	}
	return inv.runtime.Execute(inv, script, args, slot)
}

// Stop asks the runtime to end the current run. abort requests immediate termination.
func (inv *Invoker) Stop(abort bool) bool {
	return inv.runtime.Stop(inv, abort)
}

func (inv *Invoker) SetID(id int) { inv.id.Store(int64(id)) }
func (inv *Invoker) ID() int      { return int(inv.id.Load()) }

func (inv *Invoker) SetAddon(a *addon.Addon) { inv.addon.Store(a) }
func (inv *Invoker) Addon() *addon.Addon     { return inv.addon.Load() }

// State returns the current state. Liveness read only, see fsm.Machine.Current.
func (inv *Invoker) State() fsm.State { return inv.state.Current() }

// Advance moves the state forward; backward moves are ignored.
func (inv *Invoker) Advance(s fsm.State) bool { return inv.state.Advance(s) }

// Reset returns the invoker to StateUninitialized. Only the owning worker
// calls this, and only between runs.
func (inv *Invoker) Reset() { inv.state.Reset() }

func (inv *Invoker) IsActive() bool   { return inv.state.IsActive() }
func (inv *Invoker) IsRunning() bool  { return inv.state.IsRunning() }
func (inv *Invoker) IsStopping() bool { return inv.state.IsStopping() }

// OnExecutionInitialized asks the handler whether the run may start.
// Without a handler the run is refused.
func (inv *Invoker) OnExecutionInitialized() bool {
	if inv.handler == nil {
		return false
	}
	return inv.handler.OnScriptInitialized(inv)
}

func (inv *Invoker) OnAbortRequested() {
	if inv.handler != nil {
		inv.handler.OnScriptAbortRequested(inv)
	}
}

// OnExecutionFailed marks the run failed and notifies the handler.
func (inv *Invoker) OnExecutionFailed() {
	inv.state.Advance(fsm.StateFailed)
	if inv.handler != nil {
		inv.handler.OnExecutionEnded(inv)
	}
}

// OnExecutionDone marks the execution finished and notifies the handler.
func (inv *Invoker) OnExecutionDone() {
	inv.state.Advance(fsm.StateExecutionDone)
	if inv.handler != nil {
		inv.handler.OnExecutionEnded(inv)
	}
}

func (inv *Invoker) OnExecutionFinalized() {
	if inv.handler != nil {
		inv.handler.OnScriptFinalized(inv)
	}
}

// PulseGlobalEvent forwards a liveness heartbeat from a long running script.
func (inv *Invoker) PulseGlobalEvent() {
	if inv.handler != nil {
		inv.handler.PulseGlobalEvent()
	}
}

// Personal.AI order the ending
