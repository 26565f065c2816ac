package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/zrxmesh/ordermesh/pkg/lifecycle"
	"github.com/zrxmesh/ordermesh/pkg/logger"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Service serves the operational endpoints: a Prometheus text dump and a
// liveness probe.
type Service struct {
	addr string
	srv  *http.Server
}

func New(addr string) *Service { return &Service{addr: addr} }

func (s *Service) Name() string { return "monitoring" }

func (s *Service) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/metrics", handleMetrics)
	s.srv = &http.Server{Addr: s.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = s.srv.ListenAndServe() }()
	logger.InfoJ("monitoring_start", map[string]any{"addr": s.addr, "result": "ok"})
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_, _ = w.Write([]byte(metrics.DumpProm()))
}

var _ lifecycle.Service = (*Service)(nil)
