package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/claimledger/internal/model"
)

// EventKind classifies a store change event
type EventKind string

const (
	EventClaimCreated EventKind = "claim_created"
	EventClaimRevised EventKind = "claim_revised"
	EventEdgeAdded    EventKind = "edge_added"
	EventEdgeRemoved  EventKind = "edge_removed"
)

// Event describes one committed change
type Event struct {
	ID       string
	Kind     EventKind
	ClaimID  model.ClaimID
	Revision uint64
	Edge     *model.Relation
	At       time.Time
}

func newEvent(kind EventKind, id model.ClaimID, rev uint64, edge *model.Relation, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		ClaimID:  id,
		Revision: rev,
		Edge:     edge,
		At:       at,
	}
}

// broker fans committed events out to subscribers
// Delivery is synchronous and happens after commit, before the mutating call returns.
type broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func newBroker() *broker {
	return &broker{subs: make(map[int]func(Event))}
}

func (b *broker) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *broker) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	b.mu.RLock()
	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}
