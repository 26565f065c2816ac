//go:build p2p

package p2p

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	p2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// BuildTransport constructs a libp2p+gossipsub transport when 'p2p' tag enabled.
func BuildTransport(cfg NetConfig) (Transport, error) {
	t := &Libp2pTransport{cfg: cfg, limiter: NewSyncLimiter(cfg.maxSyncPeers())}
	return t, nil
}

// Libp2pTransport implements the Transport interface using libp2p + gossipsub.
// A single pubsub topic derived from the order filter carries all order
// frames; the order-sync stream protocol backfills the existing set from the
// first connected peer.
type Libp2pTransport struct {
	cfg        NetConfig
	host       p2phost.Host
	ps         *pubsub.PubSub
	topic      *pubsub.Topic
	sub        *pubsub.Subscription
	topicName  string
	onOrder    func(from string, data []byte)
	onPeerDown func(peer string)
	provider   SyncProvider
	limiter    *SyncLimiter
	syncing    atomic.Bool
}

func (t *Libp2pTransport) Start(ctx context.Context) error {
	if !t.cfg.Enable {
		return nil
	}
	priv, err := LoadOrCreateIdentity(t.cfg.IdentityFile)
	if err != nil {
		return err
	}
	opts := []libp2p.Option{libp2p.Identity(priv)}
	if len(t.cfg.Listen) > 0 {
		var addrs []ma.Multiaddr
		for _, s := range t.cfg.Listen {
			if strings.TrimSpace(s) == "" {
				continue
			}
			a, err := ma.NewMultiaddr(s)
			if err != nil {
				return err
			}
			addrs = append(addrs, a)
		}
		if len(addrs) > 0 {
			opts = append(opts, libp2p.ListenAddrs(addrs...))
		}
	}
	if t.cfg.NAT {
		opts = append(opts, libp2p.NATPortMap())
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return err
	}
	t.host = h
	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithMaxMessageSize(t.cfg.maxMsgBytes()))
	if err != nil {
		return err
	}
	t.ps = ps
	t.topicName = t.cfg.Filter.Topic()
	if t.topic, err = ps.Join(t.topicName); err != nil {
		return err
	}
	if t.sub, err = t.topic.Subscribe(); err != nil {
		return err
	}
	if t.cfg.EnableSync {
		t.registerSyncHandler()
	}
	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			metrics.SetGauge(MetricP2PPeers, nil, float64(len(h.Network().Peers())))
			if t.cfg.EnableSync {
				t.maybeStartSync(ctx, c.RemotePeer())
			}
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			metrics.SetGauge(MetricP2PPeers, nil, float64(len(h.Network().Peers())))
			if t.onPeerDown != nil {
				t.onPeerDown(c.RemotePeer().String())
			}
		},
	})

	// connect bootnodes (best effort)
	for _, b := range t.cfg.Bootnodes {
		if strings.TrimSpace(b) == "" {
			continue
		}
		_ = connectOnce(ctx, h, b)
	}

	// Log self peer id and listen addrs for operators to copy into bootnodes.txt
	for _, a := range h.Addrs() {
		logger.InfoJ("p2p_addr", map[string]any{"self_id": h.ID().String(), "addr": a.String()})
	}

	go t.loopOrders(ctx)
	logger.InfoJ("p2p_start", map[string]any{"result": "ok", "topic": t.topicName})
	return nil
}

func (t *Libp2pTransport) Stop(_ context.Context) error {
	if t.sub != nil {
		t.sub.Cancel()
	}
	if t.topic != nil {
		_ = t.topic.Close()
	}
	if t.host != nil {
		return t.host.Close()
	}
	return nil
}

func (t *Libp2pTransport) BroadcastOrder(ctx context.Context, data []byte) error {
	if t.topic == nil {
		return errors.New("p2p not started")
	}
	if err := t.topic.Publish(ctx, data); err != nil {
		metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": t.topicName, "direction": "tx", "result": "error"})
		return err
	}
	metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": t.topicName, "direction": "tx", "result": "ok"})
	metrics.Add(MetricP2PBytesTotal, map[string]string{"topic": t.topicName, "direction": "tx"}, float64(len(data)))
	return nil
}

func (t *Libp2pTransport) OnOrder(fn func(from string, data []byte)) { t.onOrder = fn }
func (t *Libp2pTransport) OnPeerDown(fn func(peer string))           { t.onPeerDown = fn }
func (t *Libp2pTransport) SetSyncProvider(fn SyncProvider)           { t.provider = fn }

func (t *Libp2pTransport) Self() string {
	if t.host == nil {
		return ""
	}
	return t.host.ID().String()
}

// DisconnectPeer drops every connection to the peer. The disconnect
// notification then releases the peer's budgets via the peer-down handler.
func (t *Libp2pTransport) DisconnectPeer(p string) error {
	if t.host == nil {
		return errors.New("p2p not started")
	}
	id, err := peer.Decode(p)
	if err != nil {
		return err
	}
	return t.host.Network().ClosePeer(id)
}

func (t *Libp2pTransport) loopOrders(ctx context.Context) {
	for {
		m, err := t.sub.Next(ctx)
		if err != nil {
			return
		}
		if m.ReceivedFrom == t.host.ID() {
			continue
		}
		metrics.Inc(MetricP2PMessagesTotal, map[string]string{"topic": t.topicName, "direction": "rx", "result": "ok"})
		metrics.Add(MetricP2PBytesTotal, map[string]string{"topic": t.topicName, "direction": "rx"}, float64(len(m.Data)))
		if t.onOrder != nil {
			t.onOrder(m.ReceivedFrom.String(), m.Data)
		}
	}
}

func connectOnce(ctx context.Context, h p2phost.Host, addr string) error {
	maAddr, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(maAddr)
	if err != nil {
		return err
	}
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.Connect(ctx2, *info)
}
