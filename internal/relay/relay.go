package relay

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/turtacn/Lingua/internal/invoker"
	"github.com/turtacn/Lingua/internal/monitor"
	"github.com/turtacn/Lingua/pkg/consts"
	"github.com/turtacn/Lingua/pkg/logger"
)

// Kind names a lifecycle notification.
type Kind string

const (
	KindStarted        Kind = "started"
	KindInitialized    Kind = "initialized"
	KindVetoed         Kind = "vetoed"
	KindAbortRequested Kind = "abort_requested"
	KindEnded          Kind = "ended"
	KindFinalized      Kind = "finalized"
	KindPulse          Kind = "pulse"
)

// Event is the wire form of a lifecycle notification.
type Event struct {
	Kind      Kind      `json:"kind"`
	InvokerID int       `json:"invoker_id"`
	AddonID   string    `json:"addon_id,omitempty"`
	State     string    `json:"state,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	Time      time.Time `json:"time"`
}

// Relay is an invoker.Handler that publishes every notification on an
// in-process watermill topic.
type Relay struct {
	pubsub *gochannel.GoChannel
	log    logger.Logger
	now    func() time.Time

	mu   sync.Mutex
	runs map[int]string
	gate func(*invoker.Invoker) bool

	closed atomic.Bool
}

func New() *Relay {
	l := logger.Log.With("component", "relay")
	return &Relay{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, &wmLogger{l: l}),
		log:  l,
		now:  time.Now,
		runs: make(map[int]string),
	}
}

// SetGate installs the initialization veto. nil allows every run.
func (r *Relay) SetGate(gate func(*invoker.Invoker) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = gate
}

// Subscribe streams events in publish order until ctx is done or the relay
// is closed. Events are dropped for a subscriber that falls behind.
func (r *Relay) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := r.pubsub.Subscribe(ctx, consts.EventTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				r.log.Warn("Relay: dropping malformed event", "msg_id", msg.UUID, "err", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			default:
				r.log.Warn("Relay: subscriber is behind, dropping event", "kind", ev.Kind, "invoker", ev.InvokerID)
			}
		}
	}()
	return out, nil
}

// Forget drops the run id kept for an invoker.
func (r *Relay) Forget(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

// Close shuts the topic down. A closed relay vetoes every initialization.
func (r *Relay) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.pubsub.Close()
}

func (r *Relay) OnScriptStarted(inv *invoker.Invoker) {
	run := uuid.NewString()
	r.mu.Lock()
	r.runs[inv.ID()] = run
	r.mu.Unlock()
	r.publish(KindStarted, inv)
}

func (r *Relay) OnScriptInitialized(inv *invoker.Invoker) bool {
	if r.closed.Load() {
		return false
	}
	r.mu.Lock()
	gate := r.gate
	r.mu.Unlock()

	if gate != nil && !gate(inv) {
		r.publish(KindVetoed, inv)
		return false
	}
	r.publish(KindInitialized, inv)
	return true
}

func (r *Relay) OnScriptAbortRequested(inv *invoker.Invoker) { r.publish(KindAbortRequested, inv) }
func (r *Relay) OnExecutionEnded(inv *invoker.Invoker)       { r.publish(KindEnded, inv) }
func (r *Relay) OnScriptFinalized(inv *invoker.Invoker)      { r.publish(KindFinalized, inv) }

func (r *Relay) PulseGlobalEvent() {
	monitor.PulsesTotal.Inc()
	r.send(Event{Kind: KindPulse, InvokerID: -1, Time: r.now()})
}

func (r *Relay) publish(kind Kind, inv *invoker.Invoker) {
	ev := Event{
		Kind:      kind,
		InvokerID: inv.ID(),
		State:     inv.State().String(),
		Time:      r.now(),
	}
	if a := inv.Addon(); a != nil {
		ev.AddonID = a.ID
	}
	r.mu.Lock()
	ev.RunID = r.runs[ev.InvokerID]
	r.mu.Unlock()
	r.send(ev)
}

func (r *Relay) send(ev Event) {
	if r.closed.Load() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.log.Error("Relay: failed to encode event", "kind", ev.Kind, "err", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(consts.MetaKeyEventKind, string(ev.Kind))
	msg.Metadata.Set(consts.MetaKeyInvoker, strconv.Itoa(ev.InvokerID))
	if err := r.pubsub.Publish(consts.EventTopic, msg); err != nil {
		r.log.Warn("Relay: failed to publish event", "kind", ev.Kind, "err", err)
	}
}

// wmLogger routes watermill's own logging into the host logger.
type wmLogger struct {
	l      logger.Logger
	fields watermill.LogFields
}

func (w *wmLogger) args(fields watermill.LogFields) []any {
	merged := w.fields.Add(fields)
	out := make([]any, 0, len(merged)*2)
	for k, v := range merged {
		out = append(out, k, v)
	}
	return out
}

func (w *wmLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.l.Error(msg, append(w.args(fields), "err", err)...)
}
func (w *wmLogger) Info(msg string, fields watermill.LogFields)  { w.l.Info(msg, w.args(fields)...) }
func (w *wmLogger) Debug(msg string, fields watermill.LogFields) { w.l.Debug(msg, w.args(fields)...) }
func (w *wmLogger) Trace(msg string, fields watermill.LogFields) {}

func (w *wmLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &wmLogger{l: w.l, fields: w.fields.Add(fields)}
}

// Personal.AI order the ending
