package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/zrxmesh/ordermesh/internal/admission"
	"github.com/zrxmesh/ordermesh/internal/gossip"
	"github.com/zrxmesh/ordermesh/internal/oracle"
	"github.com/zrxmesh/ordermesh/internal/p2p"
	"github.com/zrxmesh/ordermesh/internal/p2p/wire"
	"github.com/zrxmesh/ordermesh/internal/store"
	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/bus"
	"github.com/zrxmesh/ordermesh/pkg/lifecycle"
	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
	"github.com/zrxmesh/ordermesh/pkg/trace"
)

// State is the node lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type SubmitStatus string

const (
	SubmitAdmitted  SubmitStatus = "admitted"
	SubmitDuplicate SubmitStatus = "duplicate"
	SubmitInvalid   SubmitStatus = "invalid"
	SubmitFull      SubmitStatus = "full"
)

// SubmitResult reports what the pipeline did with one order.
type SubmitResult struct {
	Hash   string       `json:"hash,omitempty"`
	Status SubmitStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
}

var ErrNotRunning = errors.New("mesh: node not running")

// Node runs the relay pipeline: admission -> validation -> store ->
// journal -> events/sinks -> gossip. Inbound frames are queued on the bus
// by the transport callback and drained by a single loop that fans
// validation out under a concurrency cap.
type Node struct {
	cfg    Config
	filter zeroex.OrderFilter

	b     *bus.Bus
	sub   bus.Subscriber
	store *store.Store
	adm   *admission.Control
	eng   *gossip.Engine
	orc   oracle.Oracle
	pol   oracle.Policy
	jrnl  *Journal
	sink  OrderSink
	feed  *Feed
	tr    p2p.Transport
	clk   clock.Clock

	sem   *semaphore.Weighted
	state atomic.Int32

	mu      sync.Mutex
	backlog map[string]int64

	// recently expired fingerprints are refused re-admission until the
	// recorded deadline, so a slow re-gossip cannot resurrect them.
	recent *lru.Cache[common.Hash, time.Time]

	loopCtx    context.Context
	loopCancel context.CancelFunc
	procCtx    context.Context
	procCancel context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg Config) *Node {
	n := &Node{
		cfg:     cfg,
		filter:  cfg.Filter(),
		feed:    NewFeed(),
		sink:    noopSink{},
		backlog: map[string]int64{},
	}
	n.state.Store(int32(StateStarting))
	return n
}

func (n *Node) Name() string { return "mesh-node" }

// SetBus allows tests/wiring to share an event bus. If nil, a private bus
// is created on start.
func (n *Node) SetBus(b *bus.Bus) { n.b = b }

// SetTransport injects the network transport. The node registers its
// callbacks on start; the transport must be started after the node.
func (n *Node) SetTransport(t p2p.Transport) { n.tr = t }

// SetOracle allows tests/wiring to inject a validation oracle. If nil, the
// stateless oracle for the configured filter is instantiated on start.
func (n *Node) SetOracle(o oracle.Oracle) { n.orc = o }

// SetRetryPolicy overrides the indeterminate-retry policy.
func (n *Node) SetRetryPolicy(p oracle.Policy) { n.pol = p }

// SetStore allows tests/wiring to inject an order store.
func (n *Node) SetStore(s *store.Store) { n.store = s }

// SetAdmission allows tests/wiring to inject admission control.
func (n *Node) SetAdmission(a *admission.Control) { n.adm = a }

// SetGossip allows tests/wiring to inject a gossip engine.
func (n *Node) SetGossip(e *gossip.Engine) { n.eng = e }

// SetJournal injects the admission journal (optional).
func (n *Node) SetJournal(j *Journal) { n.jrnl = j }

// SetSink injects a downstream sink for admitted orders (optional).
func (n *Node) SetSink(s OrderSink) {
	if s != nil {
		n.sink = s
	}
}

// SetClock allows tests to inject a mock clock.
func (n *Node) SetClock(clk clock.Clock) { n.clk = clk }

func (n *Node) Start(_ context.Context) error {
	if n.clk == nil {
		n.clk = clock.New()
	}
	if n.b == nil {
		n.b = bus.New(n.cfg.Node.BusSize)
	}
	n.sub = n.b.Subscribe()
	if n.store == nil {
		n.store = store.New(n.cfg.Node.StoreCapacity, n.clk)
	}
	if n.adm == nil {
		n.adm = admission.New(admission.DefaultConfig())
	}
	if n.orc == nil {
		n.orc = oracle.NewStateless(n.filter, n.clk)
	}
	if n.pol.MaxAttempts <= 0 {
		n.pol = oracle.DefaultPolicy()
	}
	if n.eng == nil {
		var pub gossip.Publisher
		if n.tr != nil {
			pub = n.tr
		} else {
			pub = &p2p.NoopTransport{}
		}
		n.eng = gossip.New(gossip.DefaultConfig(), pub)
	}
	if n.recent == nil {
		n.recent, _ = lru.New[common.Hash, time.Time](4096)
	}
	n.sem = semaphore.NewWeighted(n.cfg.Node.MaxValidations)

	n.restore()

	if n.tr != nil {
		n.tr.OnOrder(n.HandleFrame)
		n.tr.OnPeerDown(n.HandlePeerDown)
		if st, ok := n.tr.(p2p.SyncTransport); ok {
			st.SetSyncProvider(n.SyncPage)
		}
		if pc, ok := n.tr.(p2p.PeerControl); ok {
			n.adm.OnMisbehaving(func(peer string, violations int64) {
				if err := pc.DisconnectPeer(peer); err != nil {
					logger.WarnJ("mesh_peer", map[string]any{"result": "drop_failed", "peer": peer, "err": err.Error()})
				}
			})
		}
	}

	n.loopCtx, n.loopCancel = context.WithCancel(context.Background())
	n.procCtx, n.procCancel = context.WithCancel(context.Background())
	n.wg.Add(1)
	go n.loop()
	n.state.Store(int32(StateRunning))
	logger.InfoJ("mesh_start", map[string]any{"result": "ok", "orders": n.store.Len(), "topic": n.filter.Topic()})
	return nil
}

// Stop drains the pipeline: intake halts immediately, in-flight
// validations get DrainTimeout to finish, stragglers are aborted.
func (n *Node) Stop(ctx context.Context) error {
	if !n.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		n.state.Store(int32(StateStopped))
		return nil
	}
	logger.InfoJ("mesh_drain", map[string]any{"result": "begin", "backlog": n.b.Len()})
	n.loopCancel()
	dctx := ctx
	if n.cfg.Node.DrainTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, n.cfg.Node.DrainTimeout)
		defer cancel()
	}
	result := "ok"
	if err := n.sem.Acquire(dctx, n.cfg.Node.MaxValidations); err != nil {
		result = "timeout"
	} else {
		n.sem.Release(n.cfg.Node.MaxValidations)
	}
	metrics.Inc("mesh_drain_total", map[string]string{"result": result})
	n.procCancel()
	n.wg.Wait()
	n.feed.Close()
	n.state.Store(int32(StateStopped))
	logger.InfoJ("mesh_drain", map[string]any{"result": result})
	return nil
}

func (n *Node) State() State { return State(n.state.Load()) }

// Events returns the node's observable feed.
func (n *Node) Events() *Feed { return n.feed }

// ActiveOrders returns a point-in-time snapshot in expiry order.
func (n *Node) ActiveOrders() []store.OrderRecord { return n.store.Snapshot() }

// Get looks up one stored order by fingerprint.
func (n *Node) Get(fp common.Hash) (store.OrderRecord, bool) { return n.store.Get(fp) }

type Stats struct {
	State    string `json:"state"`
	Orders   int    `json:"orders"`
	Capacity int    `json:"capacity"`
	Self     string `json:"self,omitempty"`
}

func (n *Node) Stats() Stats {
	st := Stats{State: n.State().String(), Orders: n.store.Len(), Capacity: n.cfg.Node.StoreCapacity}
	if n.tr != nil {
		st.Self = n.tr.Self()
	}
	return st
}

// SubmitLocal pushes an order through the same pipeline as gossip intake
// and reports the outcome synchronously. Local submissions skip admission
// control but never skip validation.
func (n *Node) SubmitLocal(ctx context.Context, order *zeroex.SignedOrder) (SubmitResult, error) {
	if n.State() != StateRunning {
		return SubmitResult{}, ErrNotRunning
	}
	frame, err := wire.EncodeOrder(order)
	if err != nil {
		return SubmitResult{Status: SubmitInvalid, Reason: err.Error()}, nil
	}
	if err := n.sem.Acquire(ctx, 1); err != nil {
		return SubmitResult{}, err
	}
	defer n.sem.Release(1)
	return n.process(ctx, bus.KindLocal, "local", frame, trace.NewID()), nil
}

// HandleFrame is the transport ingress. It runs on the transport's
// goroutine, so it only does cheap bounded work before queueing.
func (n *Node) HandleFrame(from string, data []byte) {
	if n.State() != StateRunning {
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "not_running"})
		return
	}
	if v := n.adm.Admit(from, len(data)); v != admission.Allow {
		return
	}
	if !n.backlogAdd(from) {
		n.adm.Penalize(from, "backlog")
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "backlog"})
		return
	}
	ev := bus.Event{Kind: bus.KindGossip, Peer: from, Body: data, TraceID: trace.NewID()}
	if !n.b.TryPublish(context.Background(), ev) {
		n.backlogDone(from)
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "busy"})
	}
}

// HandlePeerDown releases per-peer state when the transport loses a peer.
func (n *Node) HandlePeerDown(peer string) {
	n.adm.Forget(peer)
	n.eng.OnPeerDisconnected(peer)
	n.mu.Lock()
	delete(n.backlog, peer)
	n.mu.Unlock()
	logger.DebugJ("mesh_peer", map[string]any{"result": "down", "peer": peer})
}

// SyncPage serves one order-sync page from the store in fingerprint order.
func (n *Node) SyncPage(cursor string, max int) ([][]byte, string, bool) {
	recs := n.store.SnapshotAfter(common.HexToHash(cursor), max)
	frames := make([][]byte, 0, len(recs))
	next := cursor
	for _, rec := range recs {
		b, err := wire.EncodeOrder(rec.Order)
		if err != nil {
			continue
		}
		frames = append(frames, b)
		next = rec.Fingerprint.Hex()
	}
	return frames, next, len(recs) < max
}

func (n *Node) loop() {
	defer n.wg.Done()
	ticker := n.clk.Ticker(n.cfg.Node.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-n.sub:
			n.dispatch(ev)
		case <-ticker.C:
			n.sweep()
		case <-n.loopCtx.Done():
			return
		}
	}
}

func (n *Node) dispatch(ev bus.Event) {
	frame, ok := ev.Body.([]byte)
	if !ok {
		return
	}
	n.backlogDone(ev.Peer)
	if err := n.sem.Acquire(n.loopCtx, 1); err != nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer n.sem.Release(1)
		n.process(n.procCtx, ev.Kind, ev.Peer, frame, ev.TraceID)
	}()
}

func (n *Node) process(ctx context.Context, kind bus.Kind, from string, frame []byte, traceID string) SubmitResult {
	begin := n.clk.Now()
	res := n.ingest(ctx, kind, from, frame)
	durMs := n.clk.Since(begin).Milliseconds()
	logger.InfoJ("mesh_recv", map[string]any{
		"kind": string(kind), "peer": from, "result": string(res.Status),
		"reason": res.Reason, "trace_id": traceID, "latency_ms": durMs,
	})
	metrics.ObserveSummary("mesh_proc_ms", map[string]string{"kind": string(kind)}, float64(durMs))
	return res
}

func (n *Node) ingest(ctx context.Context, kind bus.Kind, from string, frame []byte) SubmitResult {
	order, err := wire.DecodeOrder(frame)
	if err != nil {
		n.penalizeRemote(kind, from, "decode_error")
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "decode_error"})
		return SubmitResult{Status: SubmitInvalid, Reason: "decode_error"}
	}
	fp, err := order.Hash()
	if err != nil {
		n.penalizeRemote(kind, from, "unhashable")
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "unhashable"})
		return SubmitResult{Status: SubmitInvalid, Reason: "unhashable"}
	}
	if n.store.Contains(fp) {
		n.store.MarkSeenFrom(fp, from)
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "dup"})
		return SubmitResult{Hash: fp.Hex(), Status: SubmitDuplicate}
	}
	if until, ok := n.recent.Get(fp); ok {
		if n.clk.Now().Before(until) {
			metrics.Inc("mesh_ingest_total", map[string]string{"result": "recently_expired"})
			return SubmitResult{Hash: fp.Hex(), Status: SubmitInvalid, Reason: "recently_expired"}
		}
		n.recent.Remove(fp)
		n.eng.Forget(fp)
	}

	res := oracle.ValidateWithRetry(ctx, n.orc, n.pol, order)
	if res.Status != oracle.StatusValid {
		n.penalizeRemote(kind, from, res.Reason)
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "invalid"})
		return SubmitResult{Hash: fp.Hex(), Status: SubmitInvalid, Reason: res.Reason}
	}

	ins := n.store.TryInsert(store.OrderRecord{Fingerprint: fp, Order: order, Expiry: res.Expiry, Source: from})
	switch ins.Outcome {
	case store.AlreadyPresent:
		n.store.MarkSeenFrom(fp, from)
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "dup"})
		return SubmitResult{Hash: fp.Hex(), Status: SubmitDuplicate}
	case store.RejectedAtCapacity:
		metrics.Inc("mesh_ingest_total", map[string]string{"result": "full"})
		return SubmitResult{Hash: fp.Hex(), Status: SubmitFull, Reason: "store_at_capacity"}
	}
	if ins.Outcome == store.EvictedAndInserted && ins.Evicted != nil {
		_ = n.jrnl.AppendRemoved(JournalEvicted, ins.Evicted.Fingerprint, n.clk.Now())
	}
	n.store.MarkSeenFrom(fp, from)
	stored, _ := n.store.Get(fp)
	if err := n.jrnl.AppendAdmitted(stored); err != nil {
		logger.ErrorJ("journal", map[string]any{"op": "append", "result": "error", "err": err.Error()})
	}
	n.feed.Publish(Event{
		Type: EventOrderAdmitted, Fingerprint: fp, Order: order,
		Expiry: stored.Expiry, Source: from, At: stored.FirstSeen,
	})
	n.sink.Publish(AdmitRecord{
		Hash: fp.Hex(), ChainID: order.ChainID, Maker: order.MakerAddress.Hex(),
		Expiry: stored.Expiry.Unix(), Source: from, FirstSeen: stored.FirstSeen.Unix(),
	})
	n.eng.Forward(ctx, fp, frame, n.store.RecentSources(fp))
	metrics.Inc("mesh_ingest_total", map[string]string{"result": "admitted"})
	return SubmitResult{Hash: fp.Hex(), Status: SubmitAdmitted}
}

func (n *Node) sweep() {
	now := n.clk.Now()
	expired := n.store.RemoveExpiredBefore(now)
	if len(expired) == 0 {
		return
	}
	grace := now.Add(2 * n.cfg.Node.SweepInterval)
	for _, rec := range expired {
		n.recent.Add(rec.Fingerprint, grace)
		_ = n.jrnl.AppendRemoved(JournalExpired, rec.Fingerprint, now)
		n.feed.Publish(Event{
			Type: EventOrderExpired, Fingerprint: rec.Fingerprint,
			Order: rec.Order, Expiry: rec.Expiry, At: now,
		})
	}
	logger.InfoJ("mesh_sweep", map[string]any{"result": "ok", "expired": len(expired)})
}

// restore replays the journal into the store, dropping entries that
// expired while the node was down, then compacts the file.
func (n *Node) restore() {
	if n.jrnl == nil {
		return
	}
	live := map[common.Hash]store.OrderRecord{}
	err := n.jrnl.Replay(func(e JournalEntry) {
		switch e.Op {
		case JournalAdmitted:
			var so zeroex.SignedOrder
			if json.Unmarshal(e.Order, &so) != nil {
				return
			}
			h, err := so.Hash()
			if err != nil {
				return
			}
			live[h] = store.OrderRecord{
				Fingerprint: h, Order: &so, Expiry: so.ExpirationTime(),
				FirstSeen: time.Unix(e.At, 0), Source: e.Source,
			}
		case JournalExpired, JournalEvicted:
			delete(live, common.HexToHash(e.Hash))
		}
	})
	if err != nil {
		logger.ErrorJ("mesh_restore", map[string]any{"result": "error", "err": err.Error()})
		return
	}
	now := n.clk.Now()
	restored := 0
	for _, rec := range live {
		if rec.Order.ExpiredAt(now) {
			continue
		}
		ins := n.store.TryInsert(rec)
		if ins.Outcome == store.Inserted || ins.Outcome == store.EvictedAndInserted {
			restored++
		}
	}
	if err := n.jrnl.Compact(n.store.Snapshot()); err != nil {
		logger.ErrorJ("journal", map[string]any{"op": "compact", "result": "error", "err": err.Error()})
	}
	if restored > 0 {
		logger.InfoJ("mesh_restore", map[string]any{"result": "ok", "orders": restored})
	}
}

func (n *Node) penalizeRemote(kind bus.Kind, from, reason string) {
	if kind == bus.KindLocal {
		return
	}
	n.adm.Penalize(from, reason)
}

func (n *Node) backlogAdd(peer string) bool {
	limit := n.cfg.Node.PeerBacklog
	if limit <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.backlog[peer] >= limit {
		return false
	}
	n.backlog[peer]++
	return true
}

func (n *Node) backlogDone(peer string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c := n.backlog[peer]; c > 1 {
		n.backlog[peer] = c - 1
	} else {
		delete(n.backlog, peer)
	}
}

var _ lifecycle.Service = (*Node)(nil)
