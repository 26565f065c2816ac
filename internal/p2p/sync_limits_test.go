package p2p

import (
	"strings"
	"testing"

	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

func TestSyncLimiterAllowsThenLimitsThenAllows(t *testing.T) {
	metrics.Reset()
	l := NewSyncLimiter(1)

	if !l.TryOpen() {
		t.Fatalf("first TryOpen should allow")
	}
	if l.TryOpen() {
		t.Fatalf("second TryOpen should be limited")
	}
	dump := metrics.DumpProm()
	if !strings.Contains(dump, `ordersync_rate_limited_total{kind="stream"} 1`) {
		t.Fatalf("want rate limited metric, got: %s", dump)
	}
	l.Close()

	if !l.TryOpen() {
		t.Fatalf("after close, TryOpen should allow again")
	}
	dump = metrics.DumpProm()
	if !strings.Contains(dump, "ordersync_streams_open") {
		t.Fatalf("missing ordersync_streams_open gauge: %s", dump)
	}
}

func TestSyncLimiterUnlimitedWhenZero(t *testing.T) {
	l := NewSyncLimiter(0)
	for i := 0; i < 100; i++ {
		if !l.TryOpen() {
			t.Fatalf("zero max must not limit")
		}
	}
	var nilLimiter *SyncLimiter
	if !nilLimiter.TryOpen() {
		t.Fatalf("nil limiter must not limit")
	}
	nilLimiter.Close()
}
