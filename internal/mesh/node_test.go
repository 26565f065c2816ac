package mesh

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/zrxmesh/ordermesh/internal/admission"
	"github.com/zrxmesh/ordermesh/internal/oracle"
	"github.com/zrxmesh/ordermesh/internal/p2p"
	"github.com/zrxmesh/ordermesh/internal/p2p/wire"
	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

const meshTestKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func makeSigned(t *testing.T, salt int64, expiry time.Time) *zeroex.SignedOrder {
	t.Helper()
	key, err := crypto.HexToECDSA(meshTestKey)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	o := &zeroex.Order{
		ChainID:               1,
		ExchangeAddress:       common.HexToAddress("0x61935cbdd02287b511119ddb11aeb42f1593b7ef"),
		MakerAddress:          crypto.PubkeyToAddress(key.PublicKey),
		MakerAssetData:        common.Hex2Bytes("f47261b0000000000000000000000000e41d2489571d322189246dafa5ebde1f4699f498"),
		MakerFeeAssetData:     []byte{},
		MakerAssetAmount:      big.NewInt(100000000),
		MakerFee:              big.NewInt(0),
		TakerAssetData:        common.Hex2Bytes("f47261b0000000000000000000000000c02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"),
		TakerFeeAssetData:     []byte{},
		TakerAssetAmount:      big.NewInt(50000000),
		TakerFee:              big.NewInt(0),
		FeeRecipientAddress:   common.HexToAddress("0xa258b39954cef5cb142fd567a46cddb31a670124"),
		ExpirationTimeSeconds: big.NewInt(expiry.Unix()),
		Salt:                  big.NewInt(salt),
	}
	signed, err := zeroex.SignOrder(key, o)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func testNodeConfig() Config {
	cfg := DefaultConfig()
	cfg.Node.DrainTimeout = 2 * time.Second
	return cfg
}

func startNode(t *testing.T, cfg Config, clk clock.Clock, opts ...func(*Node)) *Node {
	t.Helper()
	n := New(cfg)
	n.SetClock(clk)
	for _, opt := range opts {
		opt(n)
	}
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })
	return n
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recvEvent(t *testing.T, ch <-chan Event, d time.Duration) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(d):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNode_SubmitLocalAdmitsStoresAndEmits(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	n := startNode(t, testNodeConfig(), clk)
	events, cancel := n.Events().Subscribe(8, OverflowBlock)
	defer cancel()

	order := makeSigned(t, 1, clk.Now().Add(time.Hour))
	res, err := n.SubmitLocal(context.Background(), order)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != SubmitAdmitted {
		t.Fatalf("want admitted, got %+v", res)
	}
	fp, _ := order.Hash()
	if res.Hash != fp.Hex() {
		t.Fatalf("want hash %s, got %s", fp.Hex(), res.Hash)
	}

	rec, ok := n.Get(fp)
	if !ok || rec.Source != "local" {
		t.Fatalf("stored record missing or wrong source: %+v ok=%v", rec, ok)
	}
	if got := n.ActiveOrders(); len(got) != 1 {
		t.Fatalf("want 1 active order, got %d", len(got))
	}
	if st := n.Stats(); st.State != "running" || st.Orders != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	ev := recvEvent(t, events, 2*time.Second)
	if ev.Type != EventOrderAdmitted || ev.Fingerprint != fp || ev.Source != "local" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Same order again is a duplicate, not an error.
	res, err = n.SubmitLocal(context.Background(), order)
	if err != nil || res.Status != SubmitDuplicate {
		t.Fatalf("want duplicate, got %+v err=%v", res, err)
	}
}

func TestNode_SubmitLocalRejectsInvalid(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(1000 * time.Second)
	n := startNode(t, testNodeConfig(), clk)
	ctx := context.Background()

	tampered := makeSigned(t, 2, clk.Now().Add(time.Hour))
	tampered.Signature[1] ^= 0xff
	res, err := n.SubmitLocal(ctx, tampered)
	if err != nil || res.Status != SubmitInvalid || res.Reason != "bad_signature" {
		t.Fatalf("want bad_signature, got %+v err=%v", res, err)
	}

	wrongChain := makeSigned(t, 3, clk.Now().Add(time.Hour))
	wrongChain.ChainID = 1337
	res, err = n.SubmitLocal(ctx, wrongChain)
	if err != nil || res.Status != SubmitInvalid || res.Reason != "wrong_chain" {
		t.Fatalf("want wrong_chain, got %+v err=%v", res, err)
	}

	stale := makeSigned(t, 4, clk.Now().Add(-time.Minute))
	res, err = n.SubmitLocal(ctx, stale)
	if err != nil || res.Status != SubmitInvalid || res.Reason != "expired" {
		t.Fatalf("want expired, got %+v err=%v", res, err)
	}

	if len(n.ActiveOrders()) != 0 {
		t.Fatal("invalid orders must not be stored")
	}
}

func TestNode_LifecycleGuards(t *testing.T) {
	cfg := testNodeConfig()
	n := New(cfg)
	if _, err := n.SubmitLocal(context.Background(), makeSigned(t, 5, time.Unix(4000, 0))); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("want ErrNotRunning before start, got %v", err)
	}
	n.HandleFrame("peerA", []byte("x")) // must not panic before start

	clk := clock.NewMock()
	n2 := startNode(t, cfg, clk)
	if n2.State() != StateRunning {
		t.Fatalf("want running, got %s", n2.State())
	}
	if err := n2.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if n2.State() != StateStopped {
		t.Fatalf("want stopped, got %s", n2.State())
	}
	if _, err := n2.SubmitLocal(context.Background(), makeSigned(t, 6, time.Unix(4000, 0))); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("want ErrNotRunning after stop, got %v", err)
	}
	if err := n2.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestNode_MeshPropagatesEachOrderOnce(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	hub := p2p.NewMemHub()
	cfg := testNodeConfig()

	nodes := map[string]*Node{}
	for _, name := range []string{"a", "b", "c"} {
		n := New(cfg)
		n.SetClock(clk)
		n.SetTransport(hub.Register(name))
		if err := n.Start(context.Background()); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
		nodes[name] = n
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			_ = n.Stop(context.Background())
		}
	})

	order := makeSigned(t, 7, clk.Now().Add(time.Hour))
	fp, _ := order.Hash()
	if res, err := nodes["a"].SubmitLocal(context.Background(), order); err != nil || res.Status != SubmitAdmitted {
		t.Fatalf("submit on a: %+v err=%v", res, err)
	}

	// Each node admits the fingerprint exactly once; redundant deliveries
	// land as duplicates and are not re-forwarded.
	waitFor(t, 2*time.Second, "order to reach every node exactly once", func() bool {
		_, okB := nodes["b"].Get(fp)
		_, okC := nodes["c"].Get(fp)
		return okB && okC && strings.Contains(metrics.DumpProm(), `mesh_ingest_total{result="admitted"} 3`)
	})

	recB, _ := nodes["b"].Get(fp)
	if recB.Source != "a" && recB.Source != "c" {
		t.Fatalf("b's copy must name the relaying peer, got %q", recB.Source)
	}
	recC, _ := nodes["c"].Get(fp)
	if recC.Source != "a" && recC.Source != "b" {
		t.Fatalf("c's copy must name the relaying peer, got %q", recC.Source)
	}
}

func TestNode_CapacityKeepsLatestExpiries(t *testing.T) {
	clk := clock.NewMock()
	cfg := testNodeConfig()
	cfg.Node.StoreCapacity = 2
	n := startNode(t, cfg, clk)
	ctx := context.Background()

	o100 := makeSigned(t, 10, clk.Now().Add(100*time.Second))
	o200 := makeSigned(t, 11, clk.Now().Add(200*time.Second))
	o300 := makeSigned(t, 12, clk.Now().Add(300*time.Second))
	o50 := makeSigned(t, 13, clk.Now().Add(50*time.Second))

	for _, o := range []*zeroex.SignedOrder{o100, o200} {
		if res, err := n.SubmitLocal(ctx, o); err != nil || res.Status != SubmitAdmitted {
			t.Fatalf("seed submit: %+v err=%v", res, err)
		}
	}

	// A later-expiring order displaces the earliest one.
	if res, err := n.SubmitLocal(ctx, o300); err != nil || res.Status != SubmitAdmitted {
		t.Fatalf("displacing submit: %+v err=%v", res, err)
	}
	fp100, _ := o100.Hash()
	if _, ok := n.Get(fp100); ok {
		t.Fatal("earliest-expiring order must be evicted")
	}

	// An earlier-expiring order is refused outright.
	res, err := n.SubmitLocal(ctx, o50)
	if err != nil || res.Status != SubmitFull || res.Reason != "store_at_capacity" {
		t.Fatalf("want full, got %+v err=%v", res, err)
	}
	snap := n.ActiveOrders()
	if len(snap) != 2 || !snap[0].Expiry.Before(snap[1].Expiry) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestNode_SweepExpiresAndGraceRefusesReadmission(t *testing.T) {
	clk := clock.NewMock()
	cfg := testNodeConfig()
	cfg.Node.SweepInterval = 5 * time.Second
	n := startNode(t, cfg, clk)
	ctx := context.Background()
	events, cancel := n.Events().Subscribe(8, OverflowBlock)
	defer cancel()

	order := makeSigned(t, 20, clk.Now().Add(30*time.Second))
	fp, _ := order.Hash()
	if res, _ := n.SubmitLocal(ctx, order); res.Status != SubmitAdmitted {
		t.Fatalf("submit: %+v", res)
	}
	if ev := recvEvent(t, events, 2*time.Second); ev.Type != EventOrderAdmitted {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// Let the loop register its ticker before moving the clock, then step
	// to the order's expiry one sweep interval at a time.
	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 6; i++ {
		clk.Add(5 * time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	ev := recvEvent(t, events, 2*time.Second)
	if ev.Type != EventOrderExpired || ev.Fingerprint != fp {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(n.ActiveOrders()) != 0 {
		t.Fatal("expired order must leave the store")
	}

	// Within the grace window a re-gossiped copy is refused without
	// revalidation.
	res, err := n.SubmitLocal(ctx, order)
	if err != nil || res.Status != SubmitInvalid || res.Reason != "recently_expired" {
		t.Fatalf("want recently_expired, got %+v err=%v", res, err)
	}

	// Past the grace window the copy goes through full validation again,
	// which rejects it as expired on its own merits.
	for i := 0; i < 2; i++ {
		clk.Add(5 * time.Second)
		time.Sleep(2 * time.Millisecond)
	}
	res, err = n.SubmitLocal(ctx, order)
	if err != nil || res.Status != SubmitInvalid || res.Reason != "expired" {
		t.Fatalf("want expired after grace, got %+v err=%v", res, err)
	}
}

func TestNode_StopDrainsInflightValidation(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	cfg := testNodeConfig()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	gated := oracle.Func(func(ctx context.Context, o *zeroex.SignedOrder) (oracle.Result, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
			return oracle.Result{Status: oracle.StatusInvalid, Reason: "canceled"}, nil
		}
		return oracle.Result{Status: oracle.StatusValid, Expiry: o.ExpirationTime()}, nil
	})

	n := startNode(t, cfg, clk, func(n *Node) { n.SetOracle(gated) })
	order := makeSigned(t, 30, clk.Now().Add(time.Hour))
	frame, err := wire.EncodeOrder(order)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	n.HandleFrame("peerA", frame)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never started")
	}

	stopped := make(chan struct{})
	go func() {
		_ = n.Stop(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop must wait for the in-flight validation")
	case <-time.After(50 * time.Millisecond):
	}
	if n.State() != StateDraining {
		t.Fatalf("want draining, got %s", n.State())
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not complete after drain")
	}
	if n.State() != StateStopped {
		t.Fatalf("want stopped, got %s", n.State())
	}
	fp, _ := order.Hash()
	if _, ok := n.Get(fp); !ok {
		t.Fatal("in-flight order must be admitted during drain")
	}
	if dump := metrics.DumpProm(); !strings.Contains(dump, `mesh_drain_total{result="ok"} 1`) {
		t.Fatalf("want clean drain counted, got: %s", dump)
	}
}

func TestNode_BacklogBoundsPerPeerQueue(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	cfg := testNodeConfig()
	cfg.Node.MaxValidations = 1
	cfg.Node.PeerBacklog = 2

	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	gated := oracle.Func(func(ctx context.Context, o *zeroex.SignedOrder) (oracle.Result, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return oracle.Result{Status: oracle.StatusValid, Expiry: o.ExpirationTime()}, nil
	})
	n := startNode(t, cfg, clk, func(n *Node) { n.SetOracle(gated) })

	frames := make([][]byte, 12)
	for i := range frames {
		b, err := wire.EncodeOrder(makeSigned(t, int64(40+i), clk.Now().Add(time.Hour)))
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		frames[i] = b
	}

	// First frame occupies the only validation slot.
	n.HandleFrame("peerA", frames[0])
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("validation never started")
	}

	// Second frame parks the dispatch loop waiting for the slot; once its
	// backlog debit clears, only PeerBacklog more frames may queue.
	n.HandleFrame("peerA", frames[1])
	waitFor(t, 2*time.Second, "dispatch loop to take the queued frame", func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return n.backlog["peerA"] == 0
	})

	for _, f := range frames[2:] {
		n.HandleFrame("peerA", f)
	}
	dump := metrics.DumpProm()
	if !strings.Contains(dump, `mesh_ingest_total{result="backlog"} 8`) {
		t.Fatalf("want 8 backlog rejections, got: %s", dump)
	}
	if !strings.Contains(dump, `admission_violations_total{reason="backlog"} 8`) {
		t.Fatalf("want backlog violations counted, got: %s", dump)
	}

	close(release)
	waitFor(t, 2*time.Second, "accepted frames to be validated", func() bool {
		return len(n.ActiveOrders()) == 4
	})
}

func TestNode_SyncPageWalksStoreInFingerprintOrder(t *testing.T) {
	clk := clock.NewMock()
	n := startNode(t, testNodeConfig(), clk)
	ctx := context.Background()

	var hashes []string
	for i := int64(0); i < 5; i++ {
		o := makeSigned(t, 50+i, clk.Now().Add(time.Hour))
		res, err := n.SubmitLocal(ctx, o)
		if err != nil || res.Status != SubmitAdmitted {
			t.Fatalf("submit %d: %+v err=%v", i, res, err)
		}
		hashes = append(hashes, res.Hash)
	}
	sort.Strings(hashes)

	var got []string
	cursor := wire.ZeroCursor
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("paging does not terminate")
		}
		frames, next, complete := n.SyncPage(cursor, 2)
		for _, f := range frames {
			o, err := wire.DecodeOrder(f)
			if err != nil {
				t.Fatalf("page frame decode: %v", err)
			}
			h, herr := o.Hash()
			if herr != nil {
				t.Fatalf("page frame hash: %v", herr)
			}
			got = append(got, h.Hex())
		}
		if complete {
			break
		}
		cursor = next
	}
	if len(got) != len(hashes) {
		t.Fatalf("want %d orders, got %d", len(hashes), len(got))
	}
	for i := range hashes {
		if got[i] != hashes[i] {
			t.Fatalf("position %d: want %s, got %s", i, hashes[i], got[i])
		}
	}
}

func TestNode_RestoreFromJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.journal")
	clk := clock.NewMock()
	cfg := testNodeConfig()
	n1 := startNode(t, cfg, clk, func(n *Node) { n.SetJournal(NewJournal(path)) })
	ctx := context.Background()

	oShort := makeSigned(t, 60, clk.Now().Add(60*time.Second))
	oMid := makeSigned(t, 61, clk.Now().Add(90*time.Second))
	oLong := makeSigned(t, 62, clk.Now().Add(time.Hour))
	for _, o := range []*zeroex.SignedOrder{oShort, oMid, oLong} {
		if res, err := n1.SubmitLocal(ctx, o); err != nil || res.Status != SubmitAdmitted {
			t.Fatalf("seed: %+v err=%v", res, err)
		}
	}
	if err := n1.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Restart 70s later: the short order expired while the node was down.
	clk2 := clock.NewMock()
	clk2.Add(70 * time.Second)
	n2 := startNode(t, cfg, clk2, func(n *Node) { n.SetJournal(NewJournal(path)) })

	if got := len(n2.ActiveOrders()); got != 2 {
		t.Fatalf("want 2 restored orders, got %d", got)
	}
	fpShort, _ := oShort.Hash()
	if _, ok := n2.Get(fpShort); ok {
		t.Fatal("order that expired while down must not be restored")
	}

	fpMid, _ := oMid.Hash()
	recMid, ok := n2.Get(fpMid)
	if !ok || recMid.FirstSeen.Unix() != 0 {
		t.Fatalf("restore must keep the original first-seen time, got %+v ok=%v", recMid, ok)
	}

	// Restored fingerprints stay deduplicated.
	res, err := n2.SubmitLocal(ctx, oMid)
	if err != nil || res.Status != SubmitDuplicate {
		t.Fatalf("want duplicate on restored order, got %+v err=%v", res, err)
	}

	// Restore compacted the journal down to live admissions.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("want 2 compacted lines, got %d: %q", len(lines), lines)
	}
}

func TestNode_IngressDropsOversizeFrames(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	n := startNode(t, testNodeConfig(), clk)

	n.HandleFrame("peerA", make([]byte, wire.MaxMessageSize+1))
	if dump := metrics.DumpProm(); !strings.Contains(dump, `admission_drops_total{reason="oversize"} 1`) {
		t.Fatalf("oversize frame must be dropped at admission, got: %s", dump)
	}
	if len(n.ActiveOrders()) != 0 {
		t.Fatal("oversize frame must not reach the store")
	}
}

func TestNode_RemoteGarbageIsPenalized(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	n := startNode(t, testNodeConfig(), clk)

	n.HandleFrame("peerA", []byte(`{"not":"an order"}`))
	waitFor(t, 2*time.Second, "garbage frame to be counted", func() bool {
		return strings.Contains(metrics.DumpProm(), `mesh_ingest_total{result="decode_error"} 1`)
	})
	if dump := metrics.DumpProm(); !strings.Contains(dump, `admission_violations_total{reason="decode_error"} 1`) {
		t.Fatalf("remote garbage must penalize the peer, got: %s", dump)
	}
}

// dropRecorder is a transport that records disconnect requests.
type dropRecorder struct {
	p2p.NoopTransport
	mu    sync.Mutex
	drops []string
}

func (d *dropRecorder) DisconnectPeer(peer string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drops = append(d.drops, peer)
	return nil
}

func TestNode_MisbehavingPeerIsDropped(t *testing.T) {
	metrics.Reset()
	clk := clock.NewMock()
	adm := admission.New(admission.Config{
		GlobalRate: 1000, GlobalBurst: 1000,
		PeerRate: 100, PeerBurst: 100,
		MaxPeers: 16, MaxBytes: 262144,
		ViolationLimit: 2,
	})
	tr := &dropRecorder{}
	n := startNode(t, testNodeConfig(), clk, func(n *Node) {
		n.SetAdmission(adm)
		n.SetTransport(tr)
	})

	// Two garbage frames spend the violation budget; the second crossing
	// must disconnect the peer exactly once.
	n.HandleFrame("peerA", []byte("junk-1"))
	n.HandleFrame("peerA", []byte("junk-2"))
	waitFor(t, 2*time.Second, "misbehaving peer to be dropped", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.drops) == 1 && tr.drops[0] == "peerA"
	})

	n.HandleFrame("peerA", []byte("junk-3"))
	waitFor(t, 2*time.Second, "third garbage frame to be counted", func() bool {
		return strings.Contains(metrics.DumpProm(), `admission_violations_total{reason="decode_error"} 3`)
	})
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.drops) != 1 {
		t.Fatalf("disconnect must fire once per crossing, got %v", tr.drops)
	}
}
