//go:build p2p

package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"github.com/zrxmesh/ordermesh/internal/p2p/wire"
	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

const syncIOTimeout = 30 * time.Second

// snapshot pagination is served from the handler-local cursor, so the
// snapshot id we echo back carries no state.
const syncSnapshotID = "local"

func (t *Libp2pTransport) registerSyncHandler() {
	t.host.SetStreamHandler(protocol.ID(wire.ProtocolOrderSync), t.handleSyncStream)
}

// handleSyncStream serves one order-sync session. Requests and responses
// alternate on the stream until the set is exhausted or the peer goes away.
func (t *Libp2pTransport) handleSyncStream(s network.Stream) {
	if !t.limiter.TryOpen() {
		_ = s.Reset()
		return
	}
	defer t.limiter.Close()
	if t.provider == nil {
		_ = s.Reset()
		return
	}
	defer s.Close()

	from := s.Conn().RemotePeer().String()
	dec := json.NewDecoder(s)
	enc := json.NewEncoder(s)
	cursor := wire.ZeroCursor
	var page int64
	for {
		_ = s.SetReadDeadline(time.Now().Add(syncIOTimeout))
		var req wire.Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "server", "result": "decode_error"})
			}
			return
		}
		if req.Type != wire.TypeRequest {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "server", "result": "bad_type"})
			return
		}
		sp, ok := req.PickSubprotocol()
		if !ok {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "server", "result": "no_subprotocol"})
			return
		}
		if md, ok := req.MetadataFor(sp); ok && sp == wire.SubprotocolV1 && md.MinOrderHash != "" {
			cursor = md.MinOrderHash
		}

		frames, next, complete := t.provider(cursor, t.cfg.syncPageSize())
		resp := wire.Response{
			Type:        wire.TypeResponse,
			Orders:      make([]json.RawMessage, 0, len(frames)),
			Complete:    complete,
			Subprotocol: sp,
		}
		for _, f := range frames {
			resp.Orders = append(resp.Orders, json.RawMessage(f))
		}
		switch sp {
		case wire.SubprotocolV0:
			snap := syncSnapshotID
			p := page
			resp.Metadata.SnapshotID = &snap
			resp.Metadata.Page = &p
		default:
			resp.Metadata.NextMinOrderHash = next
		}
		_ = s.SetWriteDeadline(time.Now().Add(syncIOTimeout))
		if err := enc.Encode(resp); err != nil {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "server", "result": "write_error"})
			return
		}
		metrics.Add(MetricOrderSyncOrders, map[string]string{"role": "server"}, float64(len(frames)))
		if complete {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "server", "result": "ok"})
			logger.InfoJ("ordersync_served", map[string]any{"peer": from, "pages": page + 1})
			return
		}
		cursor = next
		page++
	}
}

// maybeStartSync kicks off one client sync session against the first peer
// we connect to. A failed session clears the flag so the next connection
// retries; a completed one keeps it set for the node's lifetime.
func (t *Libp2pTransport) maybeStartSync(ctx context.Context, pid peer.ID) {
	if !t.syncing.CompareAndSwap(false, true) {
		return
	}
	go t.runOrderSync(ctx, pid)
}

func (t *Libp2pTransport) runOrderSync(ctx context.Context, pid peer.ID) {
	s, err := t.host.NewStream(ctx, pid, protocol.ID(wire.ProtocolOrderSync))
	if err != nil {
		metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "client", "result": "dial_error"})
		t.syncing.Store(false)
		return
	}
	defer s.Close()

	enc := json.NewEncoder(s)
	dec := json.NewDecoder(s)
	req := wire.NewRequest(t.cfg.Filter)
	total := 0
	for {
		_ = s.SetWriteDeadline(time.Now().Add(syncIOTimeout))
		if err := enc.Encode(req); err != nil {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "client", "result": "write_error"})
			t.syncing.Store(false)
			return
		}
		_ = s.SetReadDeadline(time.Now().Add(syncIOTimeout))
		var resp wire.Response
		if err := dec.Decode(&resp); err != nil {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "client", "result": "decode_error"})
			t.syncing.Store(false)
			return
		}
		if resp.Type != wire.TypeResponse {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "client", "result": "bad_type"})
			t.syncing.Store(false)
			return
		}
		for _, raw := range resp.Orders {
			if t.onOrder != nil {
				t.onOrder(pid.String(), []byte(raw))
			}
		}
		total += len(resp.Orders)
		metrics.Add(MetricOrderSyncOrders, map[string]string{"role": "client"}, float64(len(resp.Orders)))

		next := resp.NextRequest(t.cfg.Filter)
		if next == nil {
			metrics.Inc(MetricOrderSyncTotal, map[string]string{"role": "client", "result": "ok"})
			logger.InfoJ("ordersync_done", map[string]any{"peer": pid.String(), "orders": total})
			return
		}
		req = *next
	}
}
