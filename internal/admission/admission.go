package admission

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Verdict is the synchronous admission decision for one inbound frame.
type Verdict int

const (
	Allow Verdict = iota
	DropPeerLimit
	DropGlobalLimit
	DropOversize
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case DropPeerLimit:
		return "peer_limit"
	case DropGlobalLimit:
		return "global_limit"
	case DropOversize:
		return "oversize"
	default:
		return "unknown"
	}
}

type Config struct {
	GlobalRate  rate.Limit // frames/sec across all peers
	GlobalBurst int
	PeerRate    rate.Limit // frames/sec per peer
	PeerBurst   int
	MaxPeers    int // budget cache size; oldest budgets fall out
	MaxBytes    int // hard frame size cap, checked before any parse
	// ViolationLimit is the misbehaving threshold; crossing it fires the
	// OnMisbehaving callback once.
	ViolationLimit int64
}

// DefaultConfig assumes adversarial peers: per-peer budgets stay small.
func DefaultConfig() Config {
	return Config{
		GlobalRate:     500,
		GlobalBurst:    1000,
		PeerRate:       10,
		PeerBurst:      20,
		MaxPeers:       1024,
		MaxBytes:       262144,
		ViolationLimit: 32,
	}
}

// peerState 保存单个对等节点的令牌桶与违规计数。
type peerState struct {
	lim        *rate.Limiter
	violations atomic.Int64
}

// Control makes the pre-parse keep/drop decision for inbound frames. All
// methods are non-blocking and cheap enough for the receive path.
type Control struct {
	cfg    Config
	global *rate.Limiter
	peers  *lru.Cache[string, *peerState]

	mu            sync.Mutex // guards budget creation
	onMisbehaving func(peer string, violations int64)
}

func New(cfg Config) *Control {
	if cfg.MaxPeers <= 0 {
		cfg.MaxPeers = DefaultConfig().MaxPeers
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultConfig().MaxBytes
	}
	cache, _ := lru.New[string, *peerState](cfg.MaxPeers)
	return &Control{
		cfg:    cfg,
		global: rate.NewLimiter(cfg.GlobalRate, cfg.GlobalBurst),
		peers:  cache,
	}
}

// OnMisbehaving registers the callback fired when a peer crosses the
// violation threshold. Must be set before traffic starts.
func (c *Control) OnMisbehaving(fn func(peer string, violations int64)) { c.onMisbehaving = fn }

// Admit decides whether a frame of the given size from peer may enter the
// pipeline. Oversize frames are violations; rate drops are not by
// themselves, the counter only moves for peers exceeding their own budget.
func (c *Control) Admit(peer string, size int) Verdict {
	if size > c.cfg.MaxBytes {
		metrics.Inc("admission_drops_total", map[string]string{"reason": "oversize"})
		c.Penalize(peer, "oversize")
		return DropOversize
	}
	if c.cfg.GlobalRate > 0 && !c.global.Allow() {
		metrics.Inc("admission_drops_total", map[string]string{"reason": "global"})
		return DropGlobalLimit
	}
	if c.cfg.PeerRate > 0 {
		st := c.budget(peer)
		if !st.lim.Allow() {
			metrics.Inc("admission_drops_total", map[string]string{"reason": "peer"})
			c.addViolation(peer, st, "rate")
			return DropPeerLimit
		}
	}
	metrics.Inc("admission_allowed_total", nil)
	return Allow
}

// Penalize counts a post-admission violation (malformed frame, invalid
// order) against the peer's budget.
func (c *Control) Penalize(peer, reason string) {
	if peer == "" {
		return
	}
	c.addViolation(peer, c.budget(peer), reason)
}

func (c *Control) addViolation(peer string, st *peerState, reason string) {
	v := st.violations.Add(1)
	metrics.Inc("admission_violations_total", map[string]string{"reason": reason})
	if v == c.cfg.ViolationLimit && c.onMisbehaving != nil {
		metrics.Inc("admission_misbehaving_total", nil)
		logger.WarnJ("admission_misbehaving", map[string]any{"peer": peer, "violations": v, "reason": reason})
		c.onMisbehaving(peer, v)
	}
}

// Violations reports the peer's current violation count.
func (c *Control) Violations(peer string) int64 {
	if st, ok := c.peers.Get(peer); ok {
		return st.violations.Load()
	}
	return 0
}

// Forget drops the peer's budget and violation count on disconnect.
func (c *Control) Forget(peer string) { c.peers.Remove(peer) }

func (c *Control) budget(peer string) *peerState {
	if st, ok := c.peers.Get(peer); ok {
		return st
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.peers.Get(peer); ok {
		return st
	}
	st := &peerState{lim: rate.NewLimiter(c.cfg.PeerRate, c.cfg.PeerBurst)}
	c.peers.Add(peer, st)
	return st
}
