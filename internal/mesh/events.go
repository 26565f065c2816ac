package mesh

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

type EventType string

const (
	EventOrderAdmitted EventType = "order_admitted"
	EventOrderExpired  EventType = "order_expired"
)

// Event is one entry on the node's observable feed.
type Event struct {
	Type        EventType           `json:"type"`
	Fingerprint common.Hash         `json:"hash"`
	Order       *zeroex.SignedOrder `json:"order,omitempty"`
	Expiry      time.Time           `json:"expiry"`
	Source      string              `json:"source,omitempty"`
	At          time.Time           `json:"at"`
}

// OverflowPolicy selects what happens when a subscriber's buffer is full.
type OverflowPolicy int

const (
	// OverflowDrop discards the event for that subscriber and counts it.
	OverflowDrop OverflowPolicy = iota
	// OverflowBlock waits for the subscriber. A blocked subscriber stalls
	// the whole feed until it drains.
	OverflowBlock
)

// Feed fans node events out to subscribers. Publication order is delivery
// order for every subscriber that keeps up.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

type subscription struct {
	ch     chan Event
	policy OverflowPolicy
}

func NewFeed() *Feed { return &Feed{subs: map[int]*subscription{}} }

// Subscribe registers a listener. The returned cancel func releases the
// subscription and closes the channel.
func (f *Feed) Subscribe(buf int, policy OverflowPolicy) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	sub := &subscription{ch: make(chan Event, buf), policy: policy}
	if f.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	f.subs[id] = sub
	return sub.ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if s, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(s.ch)
		}
	}
}

// Publish delivers ev to every live subscriber under its overflow policy.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for _, sub := range f.subs {
		if sub.policy == OverflowBlock {
			sub.ch <- ev
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			metrics.Inc("mesh_events_dropped_total", map[string]string{"type": string(ev.Type)})
		}
	}
}

// Close drops all subscribers and closes their channels.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
}
