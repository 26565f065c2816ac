package bus

import (
	"context"
)

type Kind string

const (
	// KindGossip is an inbound order frame delivered from the network
	// transport into the internal bus.
	KindGossip Kind = "gossip"
	// KindLocal is an order submitted through the local API.
	KindLocal Kind = "local"
	// KindSync is an order received via the order-sync protocol.
	KindSync Kind = "sync"
)

type Event struct {
	Kind    Kind
	Peer    string
	Body    any
	TraceID string
}

type Subscriber chan Event

type Bus struct {
	pub chan Event
}

func New(size int) *Bus {
	if size <= 0 {
		size = 128
	}
	return &Bus{pub: make(chan Event, size)}
}

// Publish enqueues the event, dropping it on backpressure.
func (b *Bus) Publish(ctx context.Context, ev Event) { _ = b.TryPublish(ctx, ev) }

// TryPublish enqueues the event and reports whether it was accepted.
// Callers that must account for drops (per-peer backlog budgets) use this.
func (b *Bus) TryPublish(_ context.Context, ev Event) bool {
	select {
	case b.pub <- ev:
		return true
	default:
		return false
	}
}

func (b *Bus) Subscribe() Subscriber { return b.pub }

// Len reports the number of queued events (approximate under concurrency).
func (b *Bus) Len() int { return len(b.pub) }
