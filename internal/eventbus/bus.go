package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"campaignbot/internal/campaign"
)

// Event types published by Observer.
const (
	TypePending = "campaign.pending"
	TypeOutcome = "campaign.outcome"
	TypeState   = "campaign.state"
)

// Event is one in-memory progress signal of a campaign run.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber drops events.
type Event struct {
	Type  string
	Time  time.Time
	RunID string

	Pending int
	Outcome campaign.OutcomeKind
	State   campaign.State
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Deliver under the read lock so unsubscribe cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Observer publishes orchestrator progress onto a Bus.
type Observer struct {
	Bus Bus

	mu    sync.Mutex
	runID string
}

func (o *Observer) Pending(runID string, n int) {
	o.mu.Lock()
	o.runID = runID
	o.mu.Unlock()
	o.Bus.Publish(Event{Type: TypePending, RunID: runID, Pending: n})
}

func (o *Observer) Outcome(runID string, out campaign.Outcome) {
	o.Bus.Publish(Event{Type: TypeOutcome, RunID: runID, Outcome: out.Kind})
}

func (o *Observer) State(s campaign.State) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	o.Bus.Publish(Event{Type: TypeState, RunID: runID, State: s})
}

// Progress folds events of the current run into a status line.
type Progress struct {
	RunID     string
	Pending   int
	Processed int
	State     campaign.State
}

// Apply updates p from e and reports whether anything changed.
func (p *Progress) Apply(e Event) bool {
	switch e.Type {
	case TypePending:
		*p = Progress{RunID: e.RunID, Pending: e.Pending, State: p.State}
	case TypeOutcome:
		if e.RunID != p.RunID {
			return false
		}
		p.Processed++
	case TypeState:
		if p.State == e.State {
			return false
		}
		p.State = e.State
	default:
		return false
	}
	return true
}
