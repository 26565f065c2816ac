package admission

import (
	"strings"
	"testing"

	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GlobalRate = 1000
	cfg.GlobalBurst = 1000
	cfg.PeerRate = 1 // effectively burst-only within a test
	cfg.PeerBurst = 3
	cfg.ViolationLimit = 2
	return cfg
}

func TestAdmit_PeerBudgetBounds(t *testing.T) {
	metrics.Reset()
	c := New(testConfig())
	allowed := 0
	for i := 0; i < 10; i++ {
		if c.Admit("p1", 100) == Allow {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("want exactly burst=3 allowed, got %d", allowed)
	}
	if dump := metrics.DumpProm(); !strings.Contains(dump, `admission_drops_total{reason="peer"} 7`) {
		t.Fatalf("want 7 peer drops, got: %s", dump)
	}
}

func TestAdmit_IndependentPeerBudgets(t *testing.T) {
	c := New(testConfig())
	for i := 0; i < 3; i++ {
		if c.Admit("p1", 1) != Allow {
			t.Fatalf("p1 frame %d should pass", i)
		}
	}
	if c.Admit("p1", 1) == Allow {
		t.Fatalf("p1 should be exhausted")
	}
	// A different peer still has its own burst.
	if c.Admit("p2", 1) != Allow {
		t.Fatalf("p2 must not share p1's bucket")
	}
}

func TestAdmit_GlobalLimitCapsAllPeers(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRate = 1
	cfg.GlobalBurst = 2
	cfg.PeerBurst = 100
	c := New(cfg)
	allowed := 0
	for i := 0; i < 10; i++ {
		if c.Admit("p"+string(rune('a'+i)), 1) == Allow {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("want global burst=2 allowed across peers, got %d", allowed)
	}
}

func TestAdmit_OversizeRejectedAndPenalized(t *testing.T) {
	metrics.Reset()
	cfg := testConfig()
	cfg.MaxBytes = 64
	c := New(cfg)
	if got := c.Admit("p1", 65); got != DropOversize {
		t.Fatalf("want DropOversize, got %v", got)
	}
	if c.Violations("p1") != 1 {
		t.Fatalf("oversize must count as violation, got %d", c.Violations("p1"))
	}
	if dump := metrics.DumpProm(); !strings.Contains(dump, `admission_drops_total{reason="oversize"} 1`) {
		t.Fatalf("missing oversize drop metric: %s", dump)
	}
}

func TestPenalize_ThresholdFiresOnce(t *testing.T) {
	cfg := testConfig()
	cfg.ViolationLimit = 2
	c := New(cfg)
	var fired int
	var firedPeer string
	c.OnMisbehaving(func(peer string, v int64) { fired++; firedPeer = peer })

	c.Penalize("bad", "malformed")
	if fired != 0 {
		t.Fatalf("threshold not crossed yet")
	}
	c.Penalize("bad", "malformed")
	if fired != 1 || firedPeer != "bad" {
		t.Fatalf("want one callback for peer bad, got %d/%s", fired, firedPeer)
	}
	c.Penalize("bad", "malformed")
	if fired != 1 {
		t.Fatalf("callback must fire once per crossing, got %d", fired)
	}
}

func TestForget_ResetsBudgetAndViolations(t *testing.T) {
	c := New(testConfig())
	for i := 0; i < 5; i++ {
		c.Admit("p1", 1)
	}
	if c.Violations("p1") == 0 {
		t.Fatalf("expected violations before forget")
	}
	c.Forget("p1")
	if c.Violations("p1") != 0 {
		t.Fatalf("violations must reset after forget")
	}
	if c.Admit("p1", 1) != Allow {
		t.Fatalf("fresh budget after forget should allow")
	}
}
