package interp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/samber/lo"
	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/errors"
	"github.com/turtacn/Lingua/pkg/fsm"
	"github.com/turtacn/Lingua/pkg/logger"
)

// Source resolves script names to source code.
type Source interface {
	Load(name string) ([]byte, error)
}

// Limits bounds a single script run.
type Limits struct {
	MaxExecutionTime time.Duration
	// GracePeriod is how long a non-aborting stop waits before the run is cancelled.
	GracePeriod    time.Duration
	AllowedModules []string
	// MaxAllocs caps VM object allocations; zero means unlimited.
	MaxAllocs int64
}

// DefaultLimits returns the limits used when the configuration sets none.
func DefaultLimits() Limits {
	return Limits{
		MaxExecutionTime: consts.DefaultMaxExecutionTime,
		GracePeriod:      consts.DefaultGracePeriod,
		AllowedModules:   []string{"fmt", "strings", "math", "times", "text", "json"},
	}
}

// TengoRuntime runs tengo scripts for one invoker at a time.
//
// Scripts see these globals:
//
//	argv               array of string arguments
//	addon_id           id of the bound addon or ""
//	invoker_id         id of the invoker
//	log(msg)           writes msg to the host log
//	pulse()            forwards a liveness heartbeat
//	abort_requested()  true once a stop was requested
//	cleanup_load(raw)  registers a cleanup document, returns whether work is pending
type TengoRuntime struct {
	source Source
	codec  cleanup.Codec
	limits Limits
	log    logger.Logger
	now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	grace  *time.Timer
	abort  atomic.Bool
}

// NewTengoRuntime creates a runtime reading scripts from source.
func NewTengoRuntime(source Source, codec cleanup.Codec, limits Limits) *TengoRuntime {
	if codec == nil {
		codec = cleanup.YAMLCodec{}
	}
	if limits.MaxExecutionTime <= 0 {
		limits.MaxExecutionTime = consts.DefaultMaxExecutionTime
	}
	return &TengoRuntime{
		source: source,
		codec:  codec,
		limits: limits,
		log:    logger.Log.With("component", "tengo"),
		now:    time.Now,
	}
}

func (r *TengoRuntime) Execute(inv *invoker.Invoker, script string, args []string, slot cleanup.Slot) bool {
	r.abort.Store(false)

	src, err := r.source.Load(script)
	if err != nil {
		r.log.Error("Tengo: failed to load script", "script", script, "err", err)
		inv.OnExecutionFailed()
		return false
	}

	inv.Advance(fsm.StateInitialized)
	if !inv.OnExecutionInitialized() {
		r.log.Debug("Tengo: initialization vetoed", "script", script, "invoker", inv.ID())
		inv.OnExecutionFailed()
		return false
	}

	compiled, err := r.compile(inv, src, args, slot)
	if err != nil {
		r.log.Error("Tengo: compilation failed", "script", script,
			"err", errors.New(errors.ErrCodeScriptCompile, "Compile", script, err))
		inv.OnExecutionFailed()
		inv.OnExecutionFinalized()
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.limits.MaxExecutionTime)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		if r.grace != nil {
			r.grace.Stop()
			r.grace = nil
		}
		r.mu.Unlock()
		cancel()
	}()

	// A stop that arrived after initialization wins over the run.
	if !inv.Advance(fsm.StateRunning) {
		r.log.Debug("Tengo: stopped before running", "script", script)
		inv.OnExecutionFailed()
		inv.OnExecutionFinalized()
		return false
	}

	if err := compiled.RunContext(ctx); err != nil {
		if r.abort.Load() {
			r.log.Debug("Tengo: script aborted", "script", script, "err", err)
		} else {
			r.log.Error("Tengo: script execution failed", "script", script,
				"err", errors.New(errors.ErrCodeExecutionFailed, "Run", script, err))
		}
		inv.OnExecutionFailed()
		inv.OnExecutionFinalized()
		return false
	}

	inv.Advance(fsm.StateScriptDone)
	inv.OnExecutionFinalized()
	return true
}

func (r *TengoRuntime) Stop(inv *invoker.Invoker, abort bool) bool {
	if !inv.IsActive() {
		return false
	}
	inv.Advance(fsm.StateStopping)
	r.abort.Store(true)
	inv.OnAbortRequested()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return true
	}
	if abort || r.limits.GracePeriod <= 0 {
		r.cancel()
	} else if r.grace == nil {
		r.grace = time.AfterFunc(r.limits.GracePeriod, r.cancel)
	}
	return true
}

func (r *TengoRuntime) compile(inv *invoker.Invoker, src []byte, args []string, slot cleanup.Slot) (*tengo.Compiled, error) {
	s := tengo.NewScript(src)
	s.SetImports(stdlib.GetModuleMap(r.limits.AllowedModules...))
	if r.limits.MaxAllocs > 0 {
		s.SetMaxAllocs(r.limits.MaxAllocs)
	}

	addonID := ""
	if a := inv.Addon(); a != nil {
		addonID = a.ID
	}
	globals := map[string]interface{}{
		"argv":            lo.Map(args, func(a string, _ int) interface{} { return a }),
		"addon_id":        addonID,
		"invoker_id":      inv.ID(),
		"log":             r.logFunc(inv),
		"pulse":           r.pulseFunc(inv),
		"abort_requested": r.abortFunc(),
		"cleanup_load":    r.cleanupFunc(slot),
	}
	for name, v := range globals {
		if err := s.Add(name, v); err != nil {
			return nil, err
		}
	}
	return s.Compile()
}

func (r *TengoRuntime) logFunc(inv *invoker.Invoker) *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "log",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			msg, _ := tengo.ToString(args[0])
			r.log.Info("Script log", "message", msg, "invoker", inv.ID())
			return tengo.UndefinedValue, nil
		},
	}
}

func (r *TengoRuntime) pulseFunc(inv *invoker.Invoker) *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "pulse",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			inv.PulseGlobalEvent()
			return tengo.UndefinedValue, nil
		},
	}
}

func (r *TengoRuntime) abortFunc() *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "abort_requested",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if r.abort.Load() {
				return tengo.TrueValue, nil
			}
			return tengo.FalseValue, nil
		},
	}
}

// cleanupFunc decodes a cleanup document and hands it to slot. Cleanup-mode
// runs have no slot; the document is still decoded so scripts can check it.
func (r *TengoRuntime) cleanupFunc(slot cleanup.Slot) *tengo.UserFunction {
	return &tengo.UserFunction{
		Name: "cleanup_load",
		Value: func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			raw, ok := tengo.ToString(args[0])
			if !ok {
				return nil, tengo.ErrInvalidArgumentType{
					Name:     "raw",
					Expected: "string",
					Found:    args[0].TypeName(),
				}
			}
			p := cleanup.NewParams(r.codec, cleanup.WithClock(r.now))
			pending := p.Load([]byte(raw))
			if slot != nil {
				slot.Publish(p)
			}
			if pending {
				return tengo.TrueValue, nil
			}
			return tengo.FalseValue, nil
		},
	}
}

// Personal.AI order the ending
