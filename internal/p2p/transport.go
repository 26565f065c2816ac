package p2p

import (
	"context"
)

// Transport defines a minimal P2P transport abstraction used by the node.
// Implementations (e.g., libp2p+gossipsub) live behind feature flags; the
// node only sees opaque order frames and peer identifiers.
type Transport interface {
	// Start brings up the network stack and subscriptions.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the network stack and subscriptions.
	Stop(ctx context.Context) error

	// BroadcastOrder publishes an encoded order frame to the order topic.
	BroadcastOrder(ctx context.Context, data []byte) error

	// OnOrder registers a handler invoked on each inbound order frame.
	// Handlers must be registered before Start.
	OnOrder(fn func(from string, data []byte))
	// OnPeerDown registers a handler invoked when a peer disconnects.
	OnPeerDown(fn func(peer string))

	// Self returns this node's peer identifier, or "" before Start.
	Self() string
}

// DirectedTransport is an optional extension implemented by transports that
// can address individual peers instead of flooding the topic.
type DirectedTransport interface {
	// SendOrder delivers an encoded order frame to a single peer.
	SendOrder(ctx context.Context, peer string, data []byte) error
	// Peers lists the currently connected peer identifiers.
	Peers() []string
}

// SyncProvider pages the local order set for an order-sync responder. It
// returns frames whose order hash sorts after cursor, the cursor for the
// next page, and whether the set is exhausted.
type SyncProvider func(cursor string, max int) (orders [][]byte, next string, complete bool)

// SyncTransport is an optional extension implemented by transports that
// serve the order-sync stream protocol.
type SyncTransport interface {
	// SetSyncProvider registers the pager backing inbound sync requests.
	// Must be called before Start.
	SetSyncProvider(fn SyncProvider)
}

// PeerControl is an optional extension implemented by transports that can
// drop a peer on request. Admission control uses it to cut off peers that
// keep sending garbage after their violation budget is spent.
type PeerControl interface {
	// DisconnectPeer closes all connections to the peer. The usual peer-down
	// notification fires afterwards, so per-peer bookkeeping is released
	// through the normal churn path.
	DisconnectPeer(peer string) error
}

// NoopTransport is a stub implementation used when P2P is disabled.
// It satisfies the interface without performing any network I/O.
type NoopTransport struct {
	onOrder    func(from string, data []byte)
	onPeerDown func(peer string)
}

func (n *NoopTransport) Start(_ context.Context) error { return nil }
func (n *NoopTransport) Stop(_ context.Context) error  { return nil }

func (n *NoopTransport) BroadcastOrder(_ context.Context, _ []byte) error { return nil }

func (n *NoopTransport) OnOrder(fn func(from string, data []byte)) { n.onOrder = fn }
func (n *NoopTransport) OnPeerDown(fn func(peer string))           { n.onPeerDown = fn }

func (n *NoopTransport) Self() string { return "" }
