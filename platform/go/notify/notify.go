// Package notify carries connector nudges: hints that a connector's setup state may have changed.
// A nudge never carries state; receivers confirm with a status query.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Nudge is published when a connector webhook arrives.
type Nudge struct {
	ConnectorID string    `json:"connector_id"`
	Event       string    `json:"event,omitempty"`
	At          time.Time `json:"at"`
}

// Bus fans nudges out to subscribers keyed by connector id.
type Bus interface {
	Publish(ctx context.Context, n Nudge) error
	// Subscribe returns a channel coalescing nudges for the connector and a cancel func.
	Subscribe(connectorID string) (<-chan Nudge, func())
}

// LocalBus is an in-process Bus. Each subscriber channel holds at most one pending nudge;
// further nudges are dropped until it is drained, since one re-poll covers them all.
type LocalBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan Nudge
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]chan Nudge)}
}

func (b *LocalBus) Publish(ctx context.Context, n Nudge) error {
	b.deliver(n)
	return nil
}

func (b *LocalBus) deliver(n Nudge) int {
	key := normalize(n.ConnectorID)
	if key == "" {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, ch := range b.subs[key] {
		select {
		case ch <- n:
			delivered++
		default:
		}
	}
	return delivered
}

func (b *LocalBus) Subscribe(connectorID string) (<-chan Nudge, func()) {
	key := normalize(connectorID)
	ch := make(chan Nudge, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]chan Nudge)
	}
	b.subs[key][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[key], id)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
		})
	}
	return ch, cancel
}

// Subscribers reports how many subscriptions exist for the connector.
func (b *LocalBus) Subscribers(connectorID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[normalize(connectorID)])
}

func normalize(connectorID string) string {
	return strings.TrimSpace(connectorID)
}

var _ Bus = (*LocalBus)(nil)
