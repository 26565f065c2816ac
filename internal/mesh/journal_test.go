package mesh

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zrxmesh/ordermesh/internal/store"
	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

func journalAt(t *testing.T) *Journal {
	t.Helper()
	return NewJournal(filepath.Join(t.TempDir(), "orders.journal"))
}

func TestJournal_AppendAndReplayInOrder(t *testing.T) {
	j := journalAt(t)
	o1 := makeSigned(t, 1, time.Unix(4000, 0))
	o2 := makeSigned(t, 2, time.Unix(5000, 0))
	h1, _ := o1.Hash()
	h2, _ := o2.Hash()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	must(j.AppendAdmitted(store.OrderRecord{
		Fingerprint: h1, Order: o1, Expiry: o1.ExpirationTime(),
		FirstSeen: time.Unix(100, 0), Source: "peerA",
	}))
	must(j.AppendAdmitted(store.OrderRecord{
		Fingerprint: h2, Order: o2, Expiry: o2.ExpirationTime(),
		FirstSeen: time.Unix(101, 0), Source: "local",
	}))
	must(j.AppendRemoved(JournalExpired, h1, time.Unix(200, 0)))

	var got []JournalEntry
	if err := j.Replay(func(e JournalEntry) { got = append(got, e) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 entries, got %d", len(got))
	}
	if got[0].Op != JournalAdmitted || got[0].Hash != h1.Hex() || got[0].Source != "peerA" || got[0].At != 100 {
		t.Fatalf("entry 0 mismatch: %+v", got[0])
	}
	if got[2].Op != JournalExpired || got[2].Hash != h1.Hex() || got[2].At != 200 {
		t.Fatalf("entry 2 mismatch: %+v", got[2])
	}

	// The embedded order survives the round trip with its hash intact.
	var back zeroex.SignedOrder
	if err := json.Unmarshal(got[1].Order, &back); err != nil {
		t.Fatalf("order unmarshal: %v", err)
	}
	if h, err := back.Hash(); err != nil || h != h2 {
		t.Fatalf("replayed order hash mismatch: %v err=%v", h, err)
	}
}

func TestJournal_ReplaySkipsGarbageLines(t *testing.T) {
	j := journalAt(t)
	o := makeSigned(t, 3, time.Unix(4000, 0))
	h, _ := o.Hash()
	if err := j.AppendAdmitted(store.OrderRecord{Fingerprint: h, Order: o, Expiry: o.ExpirationTime(), FirstSeen: time.Unix(1, 0)}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Simulate a crash-truncated tail plus stray garbage.
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("{\"op\":\"admitted\",\"ha\nnot json at all\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = f.Close()
	if err := j.AppendRemoved(JournalExpired, h, time.Unix(9, 0)); err != nil {
		t.Fatalf("append: %v", err)
	}

	var ops []string
	if err := j.Replay(func(e JournalEntry) { ops = append(ops, e.Op) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(ops) != 2 || ops[0] != JournalAdmitted || ops[1] != JournalExpired {
		t.Fatalf("garbage lines must be skipped, got %v", ops)
	}
}

func TestJournal_ReplayMissingFileIsEmpty(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "absent.journal"))
	calls := 0
	if err := j.Replay(func(JournalEntry) { calls++ }); err != nil {
		t.Fatalf("replay of missing file: %v", err)
	}
	if calls != 0 {
		t.Fatalf("want no entries, got %d", calls)
	}
}

func TestJournal_CompactKeepsOnlyLive(t *testing.T) {
	j := journalAt(t)
	o1 := makeSigned(t, 4, time.Unix(4000, 0))
	o2 := makeSigned(t, 5, time.Unix(5000, 0))
	h1, _ := o1.Hash()
	h2, _ := o2.Hash()
	rec2 := store.OrderRecord{Fingerprint: h2, Order: o2, Expiry: o2.ExpirationTime(), FirstSeen: time.Unix(2, 0), Source: "peerB"}

	_ = j.AppendAdmitted(store.OrderRecord{Fingerprint: h1, Order: o1, Expiry: o1.ExpirationTime(), FirstSeen: time.Unix(1, 0)})
	_ = j.AppendAdmitted(rec2)
	_ = j.AppendRemoved(JournalExpired, h1, time.Unix(300, 0))

	if err := j.Compact([]store.OrderRecord{rec2}); err != nil {
		t.Fatalf("compact: %v", err)
	}

	raw, err := os.ReadFile(j.path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("want 1 line after compact, got %d", len(lines))
	}
	var got []JournalEntry
	if err := j.Replay(func(e JournalEntry) { got = append(got, e) }); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 1 || got[0].Op != JournalAdmitted || got[0].Hash != h2.Hex() || got[0].Source != "peerB" {
		t.Fatalf("unexpected compacted entry: %+v", got)
	}
}

func TestJournal_NilReceiverIsNoop(t *testing.T) {
	var j *Journal
	if err := j.AppendAdmitted(store.OrderRecord{}); err != nil {
		t.Fatalf("nil append admitted: %v", err)
	}
	if err := j.AppendRemoved(JournalEvicted, common.Hash{1}, time.Unix(0, 0)); err != nil {
		t.Fatalf("nil append removed: %v", err)
	}
	if err := j.Replay(func(JournalEntry) { t.Fatal("nil journal must not replay") }); err != nil {
		t.Fatalf("nil replay: %v", err)
	}
	if err := j.Compact(nil); err != nil {
		t.Fatalf("nil compact: %v", err)
	}
}
