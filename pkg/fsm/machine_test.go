package fsm

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestMachine_InitialState(t *testing.T) {
	m := New()
	if m.Current() != StateUninitialized {
		t.Errorf("Expected %v, got %v", StateUninitialized, m.Current())
	}
	if m.IsActive() || m.IsRunning() || m.IsStopping() {
		t.Error("Fresh machine should not report any activity")
	}
}

func TestMachine_Advance(t *testing.T) {
	m := New()

	if !m.Advance(StateInitialized) {
		t.Fatal("Advance to INITIALIZED should be applied")
	}
	if !m.Advance(StateRunning) {
		t.Fatal("Advance to RUNNING should be applied")
	}
	if !m.IsRunning() || !m.IsActive() {
		t.Errorf("Expected running and active, got %v", m.Current())
	}

	m.Advance(StateStopping)
	if m.Advance(StateRunning) {
		t.Error("Advance backwards must be ignored")
	}
	if m.Current() != StateStopping {
		t.Errorf("Expected STOPPING, got %v", m.Current())
	}
	if m.Advance(StateStopping) {
		t.Error("Sideways advance must be ignored")
	}
	if !m.IsStopping() {
		t.Error("Expected IsStopping")
	}
}

func TestMachine_SkipStates(t *testing.T) {
	m := New()
	if !m.Advance(StateFailed) {
		t.Fatal("FAILED must be reachable from any state")
	}
	if m.Advance(StateScriptDone) {
		t.Error("FAILED is terminal, SCRIPT_DONE must be ignored")
	}
	if m.IsActive() {
		t.Error("Failed machine should not be active")
	}
}

func TestMachine_Reset(t *testing.T) {
	m := New()
	m.Advance(StateScriptDone)
	m.Reset()
	if m.Current() != StateUninitialized {
		t.Errorf("Expected UNINITIALIZED after reset, got %v", m.Current())
	}
	if !m.Advance(StateRunning) {
		t.Error("Advance after reset should be applied")
	}
}

func TestMachine_NonDecreasingUnderRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	m := New()
	prev := m.Current()
	for i := 0; i < 10000; i++ {
		m.Advance(State(rng.Intn(int(StateFailed) + 1)))
		cur := m.Current()
		if cur < prev {
			t.Fatalf("State decreased from %v to %v", prev, cur)
		}
		prev = cur
	}
}

func TestMachine_ConcurrentAdvance(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for s := StateInitialized; s <= StateFailed; s++ {
				if (int(s)+i)%3 == 0 {
					continue
				}
				m.Advance(s)
			}
		}(i)
	}

	stop := make(chan struct{})
	observed := make(chan bool, 1)
	go func() {
		prev := m.Current()
		for {
			select {
			case <-stop:
				observed <- true
				return
			default:
			}
			cur := m.Current()
			if cur < prev {
				observed <- false
				return
			}
			prev = cur
		}
	}()

	wg.Wait()
	close(stop)
	if ok := <-observed; !ok {
		t.Fatal("Observer saw the state move backwards")
	}
	if m.Current() != StateFailed {
		t.Errorf("Expected FAILED, got %v", m.Current())
	}
}

func TestState_String(t *testing.T) {
	if StateScriptDone.String() != "SCRIPT_DONE" {
		t.Errorf("Unexpected name %q", StateScriptDone.String())
	}
	if State(42).String() != "STATE(42)" {
		t.Errorf("Unexpected name %q", State(42).String())
	}
	if !StateExecutionDone.IsTerminal() || StateStopping.IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
