package p2p

import (
	"sync/atomic"

	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// SyncLimiter 提供 order-sync 入站流并发数上限控制（节点级）。
type SyncLimiter struct {
	max  int64
	open int64
}

func NewSyncLimiter(max int64) *SyncLimiter { return &SyncLimiter{max: max} }

// TryOpen 尝试打开一个同步流；超过上限则记录限流指标并返回 false。
func (l *SyncLimiter) TryOpen() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	for {
		o := atomic.LoadInt64(&l.open)
		if o >= l.max {
			metrics.Inc("ordersync_rate_limited_total", map[string]string{"kind": "stream"})
			return false
		}
		if atomic.CompareAndSwapInt64(&l.open, o, o+1) {
			metrics.AddGauge("ordersync_streams_open", nil, 1)
			return true
		}
	}
}

// Close 关闭一个同步流并更新计数。
func (l *SyncLimiter) Close() {
	if l == nil || l.max <= 0 {
		return
	}
	for {
		o := atomic.LoadInt64(&l.open)
		if o <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&l.open, o, o-1) {
			metrics.AddGauge("ordersync_streams_open", nil, -1)
			return
		}
	}
}
