package supervisor

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/internal/monitor"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/fsm"
	"github.com/turtacn/Lingua/pkg/logger"
)

// DoneNotifier is told when a worker goroutine has finished for good.
type DoneNotifier interface {
	OnExecutionDone(id int)
}

// Phase is a coarse view of what a Worker is doing, derived from its flags.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFirstRun
	PhaseWaiting
	PhaseExecutingRestart
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFirstRun:
		return "first-run"
	case PhaseWaiting:
		return "waiting"
	case PhaseExecutingRestart:
		return "executing-restart"
	case PhaseStopping:
		return "stopping"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Worker runs scripts of one Invoker on a dedicated goroutine.
//
// A reusable worker keeps its goroutine alive after a clean run and serves
// the next Execute or Cleanup request from the same goroutine. Only one run
// is in flight at a time. A run that does not end in StateScriptDone makes
// the worker permanently non-reusable.
type Worker struct {
	id  int
	inv *invoker.Invoker
	mgr DoneNotifier
	log logger.Logger
	now func() time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	addon      *addon.Addon
	script     string
	args       []string
	reusable   bool
	params     *cleanup.Params
	cleanupIDs []int
	restart    bool
	stop       bool
	executing  bool
	alive      bool
	runs       int
	done       chan struct{}

	// Unix second of the last cleanup poll.
	lastCheck atomic.Int64
	spawns    atomic.Int64
}

type Option func(*Worker)

// WithAddon binds the worker, and through it the invoker, to an addon.
func WithAddon(a *addon.Addon) Option {
	return func(w *Worker) { w.addon = a }
}

// WithParams installs cleanup parameters before the first run.
func WithParams(p *cleanup.Params) Option {
	return func(w *Worker) { w.params = p }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// New creates an idle Worker. mgr may be nil.
func New(id int, inv *invoker.Invoker, mgr DoneNotifier, reusable bool, opts ...Option) *Worker {
	if inv == nil {
		panic("supervisor: New called with nil Invoker")
	}
	w := &Worker{
		id:       id,
		inv:      inv,
		mgr:      mgr,
		reusable: reusable,
		log:      logger.Log,
		now:      time.Now,
	}
	w.cond = sync.NewCond(&w.mu)
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.log = w.log.With("worker", id)

	closed := make(chan struct{})
	close(closed)
	w.done = closed
	return w
}

// Execute runs script with args. An alive reusable worker is restarted in
// place; otherwise a new goroutine is spawned from a reset invoker, after
// the previous one (if any) has finished.
func (w *Worker) Execute(script string, args []string) bool {
	if script == "" {
		return false
	}
	args = append([]string(nil), args...)

	for {
		w.mu.Lock()
		if w.alive && w.reusable && !w.stop {
			w.script, w.args = script, args
			w.restart = true
			w.cond.Broadcast()
			w.mu.Unlock()

			monitor.WorkerReuseTotal.Inc()
			w.log.Debug("Worker: restarting alive worker", "script", script)
			return true
		}
		if w.alive {
			// Winding down; a worker that is not reusable is never restarted.
			done := w.done
			w.mu.Unlock()
			<-done
			continue
		}

		w.script, w.args = script, args
		w.restart, w.stop = false, false
		w.cleanupIDs = nil
		w.runs = 0
		// The previous goroutine left the invoker in a terminal state.
		w.inv.Reset()
		w.alive = true
		w.done = make(chan struct{})
		done := w.done
		w.mu.Unlock()

		w.spawns.Add(1)
		monitor.ActiveWorkers.Inc()
		w.log.Debug("Worker: spawning goroutine", "script", script)
		go w.run(done)
		return true
	}
}

// Stop ends the worker. The invoker is asked to stop as well when its run
// has not finished, with wait doubling as the abort flag. With wait set,
// Stop blocks until the goroutine has exited. The result is false when the
// worker was not alive or the runtime refused the stop request.
func (w *Worker) Stop(wait bool) bool {
	w.mu.Lock()
	if !w.alive {
		w.mu.Unlock()
		return false
	}
	done := w.done
	w.stop = true
	w.cond.Broadcast()
	w.mu.Unlock()

	result := true
	if w.inv.State() < fsm.StateExecutionDone {
		result = w.inv.Stop(wait)
	}
	if wait {
		<-done
	}
	return result
}

// Wait blocks until the goroutine has exited or timeout elapses.
// A non-positive timeout waits without bound.
func (w *Worker) Wait(timeout time.Duration) bool {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// CleanupAtExit releases the worker and gives it consts.CleanupAtExitCeiling
// to finish, including its final cleanup run. A worker that overruns is
// abandoned and false is returned.
func (w *Worker) CleanupAtExit() bool {
	w.log.Debug("Worker: performing plugin cleanup at exit", "script", w.Script())

	w.Release()
	if w.Wait(consts.CleanupAtExitCeiling) {
		return true
	}

	w.log.Error("Worker: plugin cleanup didn't complete in time", "script", w.Script(), "ceiling", consts.CleanupAtExitCeiling)
	monitor.StopTimeoutsTotal.Inc()
	return false
}

// DueCleanupIDs returns the cleanup ids that expired since the last poll.
// Polls within the same second report no work.
func (w *Worker) DueCleanupIDs() ([]int, bool) {
	w.mu.Lock()
	hasParams := w.params != nil
	w.mu.Unlock()
	if !hasParams {
		return nil, false
	}

	now := w.now()
	tick := now.Unix()
	if w.lastCheck.Swap(tick) == tick {
		return nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.params.DueIDs(now)
}

// Cleanup schedules a cleanup-mode run for ids on the alive worker.
func (w *Worker) Cleanup(ids []int) {
	if len(ids) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.reusable || !w.alive || w.params == nil || w.stop {
		return
	}

	w.log.Debug("Worker: performing plugin cleanup", "script", w.script, "ids", ids)
	if !w.executing {
		w.inv.Reset()
	}
	w.cleanupIDs = append(w.cleanupIDs, ids...)
	w.restart = true
	w.cond.Broadcast()
}

// SetAddon changes the addon bound at the next goroutine startup.
func (w *Worker) SetAddon(a *addon.Addon) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addon = a
}

// Addon returns the addon the worker is bound to, or nil.
func (w *Worker) Addon() *addon.Addon {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addon
}

func (w *Worker) ID() int                   { return w.id }
func (w *Worker) Invoker() *invoker.Invoker { return w.inv }

// State returns the invoker state.
func (w *Worker) State() fsm.State { return w.inv.State() }

// Spawns returns how many goroutines this worker has started.
func (w *Worker) Spawns() int64 { return w.spawns.Load() }

func (w *Worker) IsAlive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

func (w *Worker) IsReusable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reusable
}

func (w *Worker) Script() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.script
}

func (w *Worker) PendingCleanupIDs() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]int(nil), w.cleanupIDs...)
}

func (w *Worker) Phase() Phase {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case !w.alive:
		return PhaseIdle
	case w.stop:
		return PhaseStopping
	case w.executing && w.runs <= 1:
		return PhaseFirstRun
	case w.executing:
		return PhaseExecutingRestart
	default:
		return PhaseWaiting
	}
}

// Release asks the goroutine to exit once its current run, if any, is over.
// The runtime is not interrupted.
func (w *Worker) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stop = true
	w.cond.Broadcast()
}

func (w *Worker) run(done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.alive = false
		w.executing = false
		w.cond.Broadcast()
		w.mu.Unlock()
		monitor.ActiveWorkers.Dec()
		close(done)
	}()

	w.onStartup()
	if err := w.process(); err != nil {
		w.onException(err)
		return
	}
	w.onExit()
}

func (w *Worker) process() error {
	w.mu.Lock()
	for {
		w.restart = false
		if w.runs > 0 {
			w.inv.Reset()
		}
		w.runs++
		script, args, a := w.script, w.args, w.addon
		ids := w.cleanupIDs
		w.cleanupIDs = nil
		params := w.params
		w.executing = true
		w.mu.Unlock()

		var err error
		if len(ids) == 0 {
			err = w.invoke(script, args, workerSlot{w})
		} else {
			monitor.CleanupRunsTotal.WithLabelValues("scheduled").Inc()
			err = w.invoke(script, params.Args(a, args, ids), nil)
		}

		w.mu.Lock()
		w.executing = false
		if err != nil {
			w.reusable = false
			w.mu.Unlock()
			return err
		}
		if st := w.inv.State(); st != fsm.StateScriptDone {
			if w.reusable {
				w.log.Debug("Worker: run did not finish cleanly, worker will not be reused", "state", st)
			}
			w.reusable = false
			monitor.ExecutionsTotal.WithLabelValues("failed").Inc()
		} else {
			monitor.ExecutionsTotal.WithLabelValues("done").Inc()
		}

		for !w.stop && !w.restart && w.reusable {
			w.cond.Wait()
		}
		if w.stop || !w.restart {
			break
		}
		if !w.reusable {
			// Accepted while the failed run was in flight; it runs once
			// more here and the worker exits afterwards.
			w.log.Debug("Worker: serving request accepted before demotion", "script", w.script)
		}
	}

	// The stop flag is set or the worker is no longer reusable, so Cleanup
	// and Execute cannot slip in a restart from here on.
	final := w.reusable && w.params != nil && w.params.NeedCleanup(true)
	if !final {
		if w.restart {
			w.log.Warn("Worker: dropping restart request of a worker that is shutting down", "script", w.script)
		}
		w.mu.Unlock()
		return nil
	}
	w.inv.Reset()
	script, args, a, params := w.script, w.args, w.addon, w.params
	w.executing = true
	w.mu.Unlock()

	monitor.CleanupRunsTotal.WithLabelValues("exit").Inc()
	return w.invoke(script, params.Args(a, args, nil), nil)
}

// invoke runs one execution and converts a panic into an error.
func (w *Worker) invoke(script string, args []string, slot cleanup.Slot) (err error) {
	start := time.Now()
	defer func() {
		monitor.ExecutionDuration.Observe(time.Since(start).Seconds())
		if p := recover(); p != nil {
			w.log.Error("Worker: script execution panicked", "script", script, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("script %s panicked: %v", script, p)
		}
	}()
	w.inv.Execute(script, args, slot)
	return nil
}

func (w *Worker) onStartup() {
	w.mu.Lock()
	a := w.addon
	w.mu.Unlock()

	w.inv.SetID(w.id)
	if a != nil {
		w.inv.SetAddon(a)
	}
}

func (w *Worker) onExit() {
	w.inv.OnExecutionDone()
	if w.mgr != nil {
		w.mgr.OnExecutionDone(w.id)
	}
}

func (w *Worker) onException(err error) {
	w.log.Error("Worker: execution aborted", "err", err)
	w.inv.OnExecutionFailed()
	if w.mgr != nil {
		w.mgr.OnExecutionDone(w.id)
	}
}

// workerSlot lets a running script hand its cleanup parameters to the worker.
type workerSlot struct {
	w *Worker
}

func (s workerSlot) Publish(p *cleanup.Params) {
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	s.w.params = p
}

// Personal.AI order the ending
