package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/Lingua/internal/cleanup"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/fsm"
)

type pulsingRuntime struct{}

func (pulsingRuntime) Execute(inv *invoker.Invoker, _ string, _ []string, _ cleanup.Slot) bool {
	inv.Advance(fsm.StateInitialized)
	if !inv.OnExecutionInitialized() {
		inv.OnExecutionFailed()
		return false
	}
	inv.Advance(fsm.StateRunning)
	inv.PulseGlobalEvent()
	inv.Advance(fsm.StateScriptDone)
	inv.OnExecutionFinalized()
	return true
}

func (pulsingRuntime) Stop(inv *invoker.Invoker, _ bool) bool {
	inv.Advance(fsm.StateStopping)
	inv.OnAbortRequested()
	return true
}

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event stream closed early")
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("got %d of %d events", len(out), n)
		}
	}
	return out
}

func kinds(evs []Event) []Kind {
	out := make([]Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestRelay_PublishesLifecycle(t *testing.T) {
	r := New()
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := r.Subscribe(ctx)
	require.NoError(t, err)

	a, err := addon.New("plugin.demo", "Demo", "1.0.0")
	require.NoError(t, err)
	inv := invoker.New(r, pulsingRuntime{})
	inv.SetID(4)
	inv.SetAddon(a)

	require.True(t, inv.Execute("a.tengo", nil, nil))
	inv.OnExecutionDone()

	evs := collect(t, events, 5)
	assert.Equal(t, []Kind{KindStarted, KindInitialized, KindPulse, KindFinalized, KindEnded}, kinds(evs))

	started := evs[0]
	assert.Equal(t, 4, started.InvokerID)
	assert.Equal(t, "plugin.demo", started.AddonID)
	assert.NotEmpty(t, started.RunID)
	assert.Equal(t, started.RunID, evs[3].RunID)
	assert.Equal(t, fsm.StateScriptDone.String(), evs[3].State)
	assert.Equal(t, -1, evs[2].InvokerID)
	assert.Empty(t, evs[2].RunID)
}

func TestRelay_NewRunGetsNewRunID(t *testing.T) {
	r := New()
	defer r.Close()
	events, err := r.Subscribe(context.Background())
	require.NoError(t, err)

	inv := invoker.New(r, pulsingRuntime{})
	inv.SetID(1)
	require.True(t, inv.Execute("a.tengo", nil, nil))
	inv.Reset()
	require.True(t, inv.Execute("a.tengo", nil, nil))

	evs := collect(t, events, 8)
	assert.NotEqual(t, evs[0].RunID, evs[4].RunID)

	r.Forget(1)
	r.OnScriptFinalized(inv)
	last := collect(t, events, 1)[0]
	assert.Empty(t, last.RunID)
}

func TestRelay_GateVetoes(t *testing.T) {
	r := New()
	defer r.Close()
	events, err := r.Subscribe(context.Background())
	require.NoError(t, err)

	r.SetGate(func(inv *invoker.Invoker) bool { return inv.ID() != 13 })
	inv := invoker.New(r, pulsingRuntime{})
	inv.SetID(13)

	assert.False(t, inv.Execute("a.tengo", nil, nil))
	assert.Equal(t, fsm.StateFailed, inv.State())
	assert.Equal(t, []Kind{KindStarted, KindVetoed, KindEnded}, kinds(collect(t, events, 3)))
}

func TestRelay_AbortRequested(t *testing.T) {
	r := New()
	defer r.Close()
	events, err := r.Subscribe(context.Background())
	require.NoError(t, err)

	inv := invoker.New(r, pulsingRuntime{})
	inv.Advance(fsm.StateRunning)
	assert.True(t, inv.Stop(true))

	ev := collect(t, events, 1)[0]
	assert.Equal(t, KindAbortRequested, ev.Kind)
	assert.Equal(t, fsm.StateStopping.String(), ev.State)
}

func TestRelay_ClosedRelayVetoes(t *testing.T) {
	r := New()
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	inv := invoker.New(r, pulsingRuntime{})
	assert.False(t, inv.Execute("a.tengo", nil, nil))
	assert.Equal(t, fsm.StateFailed, inv.State())
}

func TestRelay_PublishWithoutSubscribers(t *testing.T) {
	r := New()
	defer r.Close()

	inv := invoker.New(r, pulsingRuntime{})
	assert.True(t, inv.Execute("a.tengo", nil, nil))
}
