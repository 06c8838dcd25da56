package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/internal/interp"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/internal/relay"
	"github.com/turtacn/Lingua/internal/resource"
	"github.com/turtacn/Lingua/internal/supervisor"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/fsm"
	"github.com/turtacn/Lingua/pkg/logger"
	"github.com/turtacn/Lingua/pkg/protocol"
)

// WorkerInfo is a snapshot of one registered worker.
type WorkerInfo struct {
	ID       int
	Script   string
	State    fsm.State
	Phase    supervisor.Phase
	Reusable bool
	Spawns   int64
}

// Engine owns the workers of a host and routes invocations to them.
//
// The engine lock only guards its own tables. It is never held while
// calling into a worker, since workers call back into OnExecutionDone.
type Engine struct {
	cfg     *protocol.Config
	store   *resource.ScriptStore
	relay   *relay.Relay
	factory *interp.Factory
	cron    *cron.Cron
	log     logger.Logger

	mu       sync.Mutex
	nextID   int
	workers  map[int]*supervisor.Worker
	reusable map[string]int
	cancel   context.CancelFunc

	closing atomic.Bool
}

type Option func(*Engine)

// WithScriptStore replaces the OS backed script store.
func WithScriptStore(s *resource.ScriptStore) Option {
	return func(e *Engine) { e.store = s }
}

// WithRelay replaces the default relay.
func WithRelay(r *relay.Relay) Option {
	return func(e *Engine) { e.relay = r }
}

func NewEngine(cfg *protocol.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      logger.Log.With("component", "engine"),
		workers:  make(map[int]*supervisor.Worker),
		reusable: make(map[string]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.store == nil {
		e.store = resource.NewScriptStore(afero.NewOsFs(), cfg.Scripts.Root)
	}
	if e.relay == nil {
		e.relay = relay.New()
	}
	e.factory = interp.NewFactory(e.store, cleanup.YAMLCodec{}, interp.LimitsFromConfig(cfg.Interpreter))

	e.cron = cron.New()
	if _, err := e.cron.AddFunc(cfg.Invocation.CleanupSchedule, e.PollCleanup); err != nil {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "NewEngine",
			fmt.Sprintf("invalid cleanup schedule %q", cfg.Invocation.CleanupSchedule), err)
	}
	return e, nil
}

func (e *Engine) Relay() *relay.Relay          { return e.relay }
func (e *Engine) Store() *resource.ScriptStore { return e.store }

// Start begins cleanup polling, the script watcher and autostart addons.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.cron.Start()
	e.log.Info("Engine: cleanup polling started", "schedule", e.cfg.Invocation.CleanupSchedule)

	if e.cfg.Scripts.Watch {
		if err := e.store.Watch(ctx, e.onScriptChanged); err != nil {
			return err
		}
	}

	for _, ac := range e.cfg.Addons {
		if !ac.Autostart {
			continue
		}
		a, err := addon.FromConfig(ac)
		if err != nil {
			e.log.Error("Engine: skipping invalid addon", "addon", ac.ID, "err", err)
			continue
		}
		id, err := e.ExecuteAsync(ac.Script, ac.Args, a, ac.Reusable)
		if err != nil {
			e.log.Error("Engine: failed to autostart addon", "addon", a, "err", err)
			continue
		}
		e.log.Info("Engine: addon started", "addon", a, "invoker", id)
	}
	return nil
}

// ExecuteAsync runs script on a worker and returns the invoker id. With
// reuse, an alive reusable worker already serving script for the same addon
// is restarted and keeps its id. A nil addon matches any bound addon.
func (e *Engine) ExecuteAsync(script string, args []string, a *addon.Addon, reuse bool) (int, error) {
	if e.closing.Load() {
		return -1, errShuttingDown()
	}
	if reuse {
		if w := e.reuseCandidate(script); w != nil && sameAddon(w.Addon(), a) && w.IsReusable() && w.Execute(script, args) {
			e.register(w, script, true)
			e.log.Debug("Engine: reusing worker", "script", script, "invoker", w.ID())
			return w.ID(), nil
		}
	}

	w, err := e.spawn(script, args, a, reuse)
	if err != nil {
		return -1, err
	}
	return w.ID(), nil
}

// RunSync runs script on a dedicated worker and waits for it to finish.
func (e *Engine) RunSync(script string, args []string, a *addon.Addon) (fsm.State, error) {
	w, err := e.spawn(script, args, a, false)
	if err != nil {
		return fsm.StateUninitialized, err
	}
	w.Wait(0)
	return w.State(), nil
}

func (e *Engine) spawn(script string, args []string, a *addon.Addon, reuse bool) (*supervisor.Worker, error) {
	if e.closing.Load() {
		return nil, errShuttingDown()
	}
	rt, err := e.factory.ForScript(script)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	opts := []supervisor.Option{supervisor.WithLogger(e.log)}
	if a != nil {
		opts = append(opts, supervisor.WithAddon(a))
	}
	w := supervisor.New(id, invoker.New(e.relay, rt), e, reuse, opts...)

	e.register(w, script, reuse)
	if !w.Execute(script, args) {
		e.OnExecutionDone(id)
		return nil, errors.New(errors.ErrCodeExecutionFailed, "Execute", fmt.Sprintf("worker refused script %q", script), nil)
	}
	e.log.Debug("Engine: started worker", "script", script, "invoker", id, "reuse", reuse)
	return w, nil
}

func sameAddon(bound, requested *addon.Addon) bool {
	if requested == nil {
		return true
	}
	return bound != nil && bound.ID == requested.ID
}

func errShuttingDown() error {
	return errors.New(errors.ErrCodeShuttingDown, "Execute", "engine is shutting down", nil)
}

func (e *Engine) register(w *supervisor.Worker, script string, reuse bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workers[w.ID()] = w
	if reuse {
		e.reusable[script] = w.ID()
	}
}

func (e *Engine) reuseCandidate(script string) *supervisor.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.reusable[script]
	if !ok {
		return nil
	}
	return e.workers[id]
}

// OnExecutionDone removes a finished worker from the registry.
func (e *Engine) OnExecutionDone(id int) {
	e.mu.Lock()
	delete(e.workers, id)
	for script, rid := range e.reusable {
		if rid == id {
			delete(e.reusable, script)
		}
	}
	e.mu.Unlock()

	e.relay.Forget(id)
	e.log.Debug("Engine: worker finished", "invoker", id)
}

func (e *Engine) worker(op string, id int) (*supervisor.Worker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvokerNotFound, op, fmt.Sprintf("no invoker with id %d", id), nil)
	}
	return w, nil
}

// Stop stops the worker running invoker id. wait also aborts the script.
func (e *Engine) Stop(id int, wait bool) error {
	w, err := e.worker("Stop", id)
	if err != nil {
		return err
	}
	w.Stop(wait)
	return nil
}

func (e *Engine) State(id int) (fsm.State, error) {
	w, err := e.worker("State", id)
	if err != nil {
		return fsm.StateUninitialized, err
	}
	return w.State(), nil
}

func (e *Engine) IsRunning(id int) bool {
	w, err := e.worker("IsRunning", id)
	if err != nil {
		return false
	}
	return w.Invoker().IsRunning()
}

// Workers returns a snapshot of the registered workers ordered by id.
func (e *Engine) Workers() []WorkerInfo {
	ws := e.snapshot()
	infos := lo.Map(ws, func(w *supervisor.Worker, _ int) WorkerInfo {
		return WorkerInfo{
			ID:       w.ID(),
			Script:   w.Script(),
			State:    w.State(),
			Phase:    w.Phase(),
			Reusable: w.IsReusable(),
			Spawns:   w.Spawns(),
		}
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (e *Engine) snapshot() []*supervisor.Worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return lo.Values(e.workers)
}

// PollCleanup hands expired cleanup ids to their workers.
func (e *Engine) PollCleanup() {
	for _, w := range e.snapshot() {
		if ids, ok := w.DueCleanupIDs(); ok {
			e.log.Debug("Engine: cleanup due", "invoker", w.ID(), "ids", ids)
			w.Cleanup(ids)
		}
	}
}

// Reload releases every reusable worker so that the next invocation
// starts from freshly loaded code.
func (e *Engine) Reload() {
	e.mu.Lock()
	scripts := lo.Keys(e.reusable)
	e.mu.Unlock()

	for _, s := range scripts {
		e.releaseScript(s)
	}
	e.log.Info("Engine: reloaded", "released", len(scripts))
}

func (e *Engine) onScriptChanged(name string) {
	e.log.Info("Engine: script changed, releasing reusable worker", "script", name)
	e.releaseScript(name)
}

func (e *Engine) releaseScript(script string) {
	e.mu.Lock()
	id, ok := e.reusable[script]
	delete(e.reusable, script)
	w := e.workers[id]
	e.mu.Unlock()

	if ok && w != nil {
		w.Release()
	}
}

// Shutdown stops polling and gives every worker its bounded exit cleanup.
func (e *Engine) Shutdown() error {
	if !e.closing.CompareAndSwap(false, true) {
		return nil
	}

	<-e.cron.Stop().Done()
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()

	ws := e.snapshot()
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		abandoned []int
	)
	for _, w := range ws {
		wg.Add(1)
		go func(w *supervisor.Worker) {
			defer wg.Done()
			if !w.CleanupAtExit() {
				mu.Lock()
				abandoned = append(abandoned, w.ID())
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	e.store.Close()
	if err := e.relay.Close(); err != nil {
		e.log.Warn("Engine: failed to close relay", "err", err)
	}

	if len(abandoned) > 0 {
		sort.Ints(abandoned)
		return errors.New(errors.ErrCodeStopTimeout, "Shutdown", fmt.Sprintf("abandoned workers %v", abandoned), nil)
	}
	e.log.Info("Engine: shutdown complete", "workers", len(ws))
	return nil
}

// Personal.AI order the ending
