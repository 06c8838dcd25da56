package cleanup

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/turtacn/Lingua/pkg/addon"
	"github.com/turtacn/Lingua/pkg/logger"
)

const (
	flagImmediate = 1 << 0
	flagScheduled = 1 << 1
)

// Table is what a Codec fills in from a raw cleanup document.
type Table struct {
	// Immediate requests one final cleanup run when the worker shuts down.
	Immediate bool
	// Timeouts maps cleanup ids to the absolute time they become due.
	Timeouts map[int]time.Time
}

// Codec parses raw cleanup documents and builds cleanup-mode arguments.
type Codec interface {
	Decode(raw []byte, now time.Time, t *Table) error
	// Args returns the arguments for a cleanup run. ids == nil requests a full cleanup.
	Args(a *addon.Addon, args []string, ids []int) []string
}

// Slot receives the Params a script registers while it runs.
type Slot interface {
	Publish(p *Params)
}

// Params tracks outstanding cleanup obligations of one script.
//
// Params is not safe for concurrent mutation; the owning worker serializes
// Load and DueIDs. NeedCleanup only reads the atomic flags and may be called
// from anywhere.
type Params struct {
	codec Codec
	now   func() time.Time

	flags     atomic.Int32
	immediate bool
	timeouts  map[int]time.Time
}

type Option func(*Params)

// WithClock overrides the time source used when decoding relative timeouts.
func WithClock(now func() time.Time) Option {
	return func(p *Params) {
		if now != nil {
			p.now = now
		}
	}
}

func NewParams(codec Codec, opts ...Option) *Params {
	if codec == nil {
		panic("cleanup: NewParams called with nil Codec")
	}
	p := &Params{
		codec:    codec,
		now:      time.Now,
		timeouts: make(map[int]time.Time),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Load replaces the current obligations with the ones decoded from raw and
// reports whether any obligation exists afterwards. A document that cannot be
// decoded leaves nothing to do.
func (p *Params) Load(raw []byte) bool {
	p.immediate = false
	p.timeouts = make(map[int]time.Time)

	t := Table{Timeouts: make(map[int]time.Time)}
	if err := p.codec.Decode(raw, p.now(), &t); err != nil {
		logger.Log.Warn("Cleanup: discarding undecodable cleanup config", "err", err)
	} else {
		p.immediate = t.Immediate
		for id, at := range t.Timeouts {
			p.timeouts[id] = at
		}
	}

	p.updateFlags()
	return p.flags.Load() != 0
}

// NeedCleanup reports whether scheduled entries exist. With atExit set the
// immediate flag counts as well.
func (p *Params) NeedCleanup(atExit bool) bool {
	mask := int32(flagScheduled)
	if atExit {
		mask |= flagImmediate
	}
	return p.flags.Load()&mask != 0
}

// DueIDs removes and returns every id whose expiry is at or before now,
// in ascending order.
func (p *Params) DueIDs(now time.Time) ([]int, bool) {
	var ids []int
	for id, at := range p.timeouts {
		if !at.After(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, false
	}
	for _, id := range ids {
		delete(p.timeouts, id)
	}
	p.updateFlags()
	sort.Ints(ids)
	return ids, true
}

// Args builds the argument list of a cleanup run. ids == nil means full cleanup.
func (p *Params) Args(a *addon.Addon, args []string, ids []int) []string {
	return p.codec.Args(a, args, ids)
}

// Pending returns the number of scheduled entries.
func (p *Params) Pending() int {
	return len(p.timeouts)
}

func (p *Params) updateFlags() {
	var f int32
	if len(p.timeouts) > 0 {
		f |= flagScheduled
	}
	if p.immediate {
		f |= flagImmediate
	}
	p.flags.Store(f)
}

// Personal.AI order the ending
