package gossip

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Publisher is the transport surface the engine fans out through.
type Publisher interface {
	BroadcastOrder(ctx context.Context, data []byte) error
}

// DirectedPublisher is implemented by transports that can address single
// peers (the in-memory hub). Gossipsub transports fan out in the mesh and
// only expose Publisher; they already skip the message's sender.
type DirectedPublisher interface {
	Publisher
	SendOrder(ctx context.Context, peer string, data []byte) error
	Peers() []string
}

type Config struct {
	PeerRate  rate.Limit // outbound frames/sec per peer
	PeerBurst int
	MaxPeers  int
	SeenCap   int // relayed-fingerprint suppression window
}

func DefaultConfig() Config {
	return Config{PeerRate: 50, PeerBurst: 100, MaxPeers: 1024, SeenCap: 8192}
}

// Engine forwards admitted orders at most once per fingerprint and keeps
// per-peer outbound budgets so one noisy order flow cannot monopolize a
// link. Failed sends are dropped, never retried.
type Engine struct {
	cfg Config
	pub Publisher

	seen    *lru.Cache[common.Hash, struct{}]
	budgets *lru.Cache[string, *rate.Limiter]
	mu      sync.Mutex // guards budget creation
}

func New(cfg Config, pub Publisher) *Engine {
	if cfg.SeenCap <= 0 {
		cfg.SeenCap = DefaultConfig().SeenCap
	}
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultConfig().MaxPeers
	}
	seen, _ := lru.New[common.Hash, struct{}](cfg.SeenCap)
	budgets, _ := lru.New[string, *rate.Limiter](cfg.MaxPeers)
	return &Engine{cfg: cfg, pub: pub, seen: seen, budgets: budgets}
}

// Forward relays an admitted order's frame to peers, excluding the ones it
// was already seen from. A fingerprint is forwarded once; later calls are
// suppressed.
func (e *Engine) Forward(ctx context.Context, fp common.Hash, data []byte, exclude []string) {
	if e.pub == nil {
		return
	}
	if _, dup := e.seen.Get(fp); dup {
		metrics.Inc("gossip_suppressed_total", map[string]string{"reason": "dup"})
		return
	}
	e.seen.Add(fp, struct{}{})

	if dp, ok := e.pub.(DirectedPublisher); ok {
		skip := map[string]struct{}{}
		for _, p := range exclude {
			skip[p] = struct{}{}
		}
		for _, peer := range dp.Peers() {
			if _, excluded := skip[peer]; excluded {
				metrics.Inc("gossip_out_total", map[string]string{"result": "excluded"})
				continue
			}
			if !e.budget(peer).Allow() {
				metrics.Inc("gossip_out_total", map[string]string{"result": "budget"})
				continue
			}
			if err := dp.SendOrder(ctx, peer, data); err != nil {
				metrics.Inc("gossip_out_total", map[string]string{"result": "error"})
				logger.DebugJ("gossip_send", map[string]any{"peer": peer, "err": err.Error()})
				continue
			}
			metrics.Inc("gossip_out_total", map[string]string{"result": "ok"})
		}
		return
	}

	if err := e.pub.BroadcastOrder(ctx, data); err != nil {
		metrics.Inc("gossip_out_total", map[string]string{"result": "error"})
		logger.DebugJ("gossip_broadcast", map[string]any{"err": err.Error()})
		return
	}
	metrics.Inc("gossip_out_total", map[string]string{"result": "ok"})
}

// Forgotten fingerprints (expired orders) may be forwarded again if they
// re-enter through the normal pipeline.
func (e *Engine) Forget(fp common.Hash) { e.seen.Remove(fp) }

// OnPeerDisconnected releases the peer's outbound budget.
func (e *Engine) OnPeerDisconnected(peer string) { e.budgets.Remove(peer) }

func (e *Engine) budget(peer string) *rate.Limiter {
	if lim, ok := e.budgets.Get(peer); ok {
		return lim
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if lim, ok := e.budgets.Get(peer); ok {
		return lim
	}
	lim := rate.NewLimiter(e.cfg.PeerRate, e.cfg.PeerBurst)
	e.budgets.Add(peer, lim)
	return lim
}
