package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zrxmesh/ordermesh/internal/mesh"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

const (
	wsWriteWait   = 10 * time.Second
	wsPingPeriod  = 30 * time.Second
	wsEventBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams the node event feed over a websocket. Slow clients
// lose events unless they opt into ?policy=block.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	policy := mesh.OverflowDrop
	if r.URL.Query().Get("policy") == "block" {
		policy = mesh.OverflowBlock
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.Inc("api_requests_total", map[string]string{"route": "events", "code": "400"})
		return
	}
	metrics.Inc("api_requests_total", map[string]string{"route": "events", "code": "101"})
	metrics.AddGauge("api_ws_clients", nil, 1)
	defer metrics.AddGauge("api_ws_clients", nil, -1)

	ch, cancel := s.node.Events().Subscribe(wsEventBuffer, policy)
	defer cancel()
	defer conn.Close()

	// Reader loop: drains control frames and unsubscribes when the peer
	// goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				deadline := time.Now().Add(wsWriteWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), deadline)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
