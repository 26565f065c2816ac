package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/zrxmesh/ordermesh/internal/mesh"
	"github.com/zrxmesh/ordermesh/internal/store"
	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/lifecycle"
	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
	"github.com/zrxmesh/ordermesh/pkg/trace"
)

// maxBodyBytes caps a submit batch; 16 full-size order frames.
const maxBodyBytes = 16 * 262144

// defaultListLimit bounds GET /v1/orders responses unless the caller asks
// for less.
const defaultListLimit = 500

// OrderNode is the node surface the API serves. *mesh.Node satisfies it.
type OrderNode interface {
	SubmitLocal(ctx context.Context, order *zeroex.SignedOrder) (mesh.SubmitResult, error)
	ActiveOrders() []store.OrderRecord
	Get(fp common.Hash) (store.OrderRecord, bool)
	Stats() mesh.Stats
	Events() *mesh.Feed
}

// Service exposes the node over HTTP: order submission and listing, stats,
// and a websocket event feed.
type Service struct {
	addr string
	node OrderNode
	srv  *http.Server
}

func New(addr string, node OrderNode) *Service {
	return &Service{addr: addr, node: node}
}

func (s *Service) Name() string { return "api" }

func (s *Service) Start(_ context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = s.srv.ListenAndServe() }()
	logger.InfoJ("api_start", map[string]any{"addr": s.addr, "result": "ok"})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Service) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", wrapMetrics("orders", s.handleOrders))
	mux.HandleFunc("/v1/orders/", wrapMetrics("order", s.handleOrderByHash))
	mux.HandleFunc("/v1/stats", wrapMetrics("stats", s.handleStats))
	// The events route upgrades to a websocket, which needs the raw
	// ResponseWriter; it keeps its own counters.
	mux.HandleFunc("/v1/events", s.handleEvents)
	return mux
}

// handleOrders accepts a batch of signed orders (POST) or lists the active
// set in expiry order (GET).
func (s *Service) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var orders []*zeroex.SignedOrder
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&orders); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	if id := r.Header.Get("X-Trace-ID"); id != "" {
		ctx = trace.WithTraceID(ctx, id)
	}
	ctx, tid := trace.Ensure(ctx)
	results := make([]mesh.SubmitResult, 0, len(orders))
	for _, o := range orders {
		res, err := s.node.SubmitLocal(ctx, o)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		results = append(results, res)
	}
	logger.InfoJ("api_submit", map[string]any{"orders": len(orders), "trace_id": tid})
	writeJSON(w, http.StatusAccepted, map[string]any{"results": results})
}

type orderEntry struct {
	Hash      string              `json:"hash"`
	Order     *zeroex.SignedOrder `json:"order"`
	Expiry    int64               `json:"expiry"`
	FirstSeen int64               `json:"firstSeen"`
	Source    string              `json:"source"`
}

func entryFrom(rec store.OrderRecord) orderEntry {
	return orderEntry{
		Hash:      rec.Fingerprint.Hex(),
		Order:     rec.Order,
		Expiry:    rec.Expiry.Unix(),
		FirstSeen: rec.FirstSeen.Unix(),
		Source:    rec.Source,
	}
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		if n < limit {
			limit = n
		}
	}
	recs := s.node.ActiveOrders()
	total := len(recs)
	if len(recs) > limit {
		recs = recs[:limit]
	}
	entries := make([]orderEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, entryFrom(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": entries, "total": total})
}

func (s *Service) handleOrderByHash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	if len(raw) != 66 || !strings.HasPrefix(raw, "0x") {
		http.Error(w, "bad order hash", http.StatusBadRequest)
		return
	}
	b, err := hexutil.Decode(raw)
	if err != nil {
		http.Error(w, "bad order hash", http.StatusBadRequest)
		return
	}
	rec, ok := s.node.Get(common.BytesToHash(b))
	if !ok {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entryFrom(rec))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.node.Stats())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func wrapMetrics(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rr := &respRec{ResponseWriter: w, code: http.StatusOK}
		h(rr, r)
		code := strconv.Itoa(rr.code)
		metrics.Inc("api_requests_total", map[string]string{"route": route, "code": code})
		metrics.ObserveSummary("api_latency_ms", map[string]string{"route": route}, float64(time.Since(start).Milliseconds()))
		logger.DebugJ("api_request", map[string]any{
			"route": route, "code": rr.code,
			"latency_ms": time.Since(start).Milliseconds(),
			"trace_id":   r.Header.Get("X-Trace-ID"),
		})
	}
}

type respRec struct {
	http.ResponseWriter
	code int
}

func (r *respRec) WriteHeader(c int) { r.code = c; r.ResponseWriter.WriteHeader(c) }

var _ lifecycle.Service = (*Service)(nil)
