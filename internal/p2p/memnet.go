package p2p

import (
	"context"
	"fmt"
	"sync"
)

// MemHub wires MemTransports together inside one process. Multi-node tests
// run a full mesh over it without sockets or build tags.
type MemHub struct {
	mu    sync.Mutex
	nodes map[string]*MemTransport
}

func NewMemHub() *MemHub { return &MemHub{nodes: map[string]*MemTransport{}} }

// Register creates a transport addressed by name and joins it to the hub.
func (h *MemHub) Register(name string) *MemTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	t := &MemTransport{hub: h, name: name}
	h.nodes[name] = t
	return t
}

func (h *MemHub) remove(name string) []*MemTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, name)
	return h.others(name)
}

// others returns every node except name. Callers hold h.mu.
func (h *MemHub) others(name string) []*MemTransport {
	out := make([]*MemTransport, 0, len(h.nodes))
	for n, t := range h.nodes {
		if n != name {
			out = append(out, t)
		}
	}
	return out
}

// MemTransport is an in-memory Transport. Delivery is synchronous: a
// broadcast returns after every other node's handler has run, which keeps
// multi-hop assertions deterministic.
type MemTransport struct {
	hub  *MemHub
	name string

	mu      sync.Mutex
	onOrder func(from string, data []byte)
	onDown  func(peer string)
}

var (
	_ Transport         = (*MemTransport)(nil)
	_ DirectedTransport = (*MemTransport)(nil)
)

func (t *MemTransport) Start(_ context.Context) error { return nil }

func (t *MemTransport) Stop(_ context.Context) error {
	for _, o := range t.hub.remove(t.name) {
		o.peerDown(t.name)
	}
	return nil
}

func (t *MemTransport) BroadcastOrder(_ context.Context, data []byte) error {
	t.hub.mu.Lock()
	targets := t.hub.others(t.name)
	t.hub.mu.Unlock()
	for _, o := range targets {
		o.deliver(t.name, data)
	}
	return nil
}

func (t *MemTransport) SendOrder(_ context.Context, peer string, data []byte) error {
	t.hub.mu.Lock()
	target, ok := t.hub.nodes[peer]
	t.hub.mu.Unlock()
	if !ok {
		return fmt.Errorf("memnet: unknown peer %s", peer)
	}
	target.deliver(t.name, data)
	return nil
}

func (t *MemTransport) Peers() []string {
	t.hub.mu.Lock()
	defer t.hub.mu.Unlock()
	out := make([]string, 0, len(t.hub.nodes))
	for n := range t.hub.nodes {
		if n != t.name {
			out = append(out, n)
		}
	}
	return out
}

func (t *MemTransport) OnOrder(fn func(from string, data []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOrder = fn
}

func (t *MemTransport) OnPeerDown(fn func(peer string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDown = fn
}

func (t *MemTransport) Self() string { return t.name }

func (t *MemTransport) deliver(from string, data []byte) {
	t.mu.Lock()
	fn := t.onOrder
	t.mu.Unlock()
	if fn != nil {
		cp := make([]byte, len(data))
		copy(cp, data)
		fn(from, cp)
	}
}

func (t *MemTransport) peerDown(peer string) {
	t.mu.Lock()
	fn := t.onDown
	t.mu.Unlock()
	if fn != nil {
		fn(peer)
	}
}
