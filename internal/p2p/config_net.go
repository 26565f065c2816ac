package p2p

import (
	"github.com/zrxmesh/ordermesh/internal/p2p/wire"
	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

// NetConfig carries runtime options for the P2P transport.
type NetConfig struct {
	Enable       bool
	Listen       []string // multiaddrs to listen on; empty => libp2p default
	Bootnodes    []string // multiaddrs to dial on start
	NAT          bool     // enable NAT port mapping if available
	IdentityFile string   // persisted peer key; empty => ephemeral identity

	Filter      zeroex.OrderFilter // scopes the order topic and sync requests
	MaxMsgBytes int                // gossip frame ceiling; 0 => wire.MaxMessageSize

	EnableSync   bool // request the order set from the first connected peer
	SyncPageSize int  // orders per sync response page; 0 => DefaultSyncPageSize
	MaxSyncPeers int  // concurrent inbound sync streams; 0 => DefaultMaxSyncPeers
}

const (
	DefaultSyncPageSize = 100
	DefaultMaxSyncPeers = 8
)

// DefaultNetConfig targets mainnet v3 orders with the transport disabled.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		Filter:       zeroex.MainnetV3(),
		MaxMsgBytes:  wire.MaxMessageSize,
		SyncPageSize: DefaultSyncPageSize,
		MaxSyncPeers: DefaultMaxSyncPeers,
	}
}

func (c NetConfig) maxMsgBytes() int {
	if c.MaxMsgBytes > 0 {
		return c.MaxMsgBytes
	}
	return wire.MaxMessageSize
}

func (c NetConfig) syncPageSize() int {
	if c.SyncPageSize > 0 {
		return c.SyncPageSize
	}
	return DefaultSyncPageSize
}

func (c NetConfig) maxSyncPeers() int64 {
	if c.MaxSyncPeers > 0 {
		return int64(c.MaxSyncPeers)
	}
	return DefaultMaxSyncPeers
}
