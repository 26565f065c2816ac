package lifecycle

import (
	"context"
	"errors"

	"github.com/zrxmesh/ordermesh/pkg/logger"
)

// Service is the unit of composition for the node: a named component with a
// start/stop pair. Start must return promptly (spawn goroutines for loops);
// Stop must be safe to call once after a successful Start.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	services []Service
	started  []Service
}

func New() *Manager { return &Manager{} }

func (m *Manager) Add(s Service) {
	if s != nil {
		m.services = append(m.services, s)
	}
}

// StartAll starts every registered service. On the first failure it stops
// the already-started services in reverse order and returns the error.
func (m *Manager) StartAll(ctx context.Context) error {
	for _, s := range m.services {
		if err := s.Start(ctx); err != nil {
			logger.ErrorJ("lifecycle", map[string]any{"service": s.Name(), "op": "start", "err": err.Error()})
			_ = m.StopAll(context.Background())
			return err
		}
		m.started = append(m.started, s)
		logger.InfoJ("lifecycle", map[string]any{"service": s.Name(), "op": "start", "result": "ok"})
	}
	return nil
}

// StopAll stops started services in reverse order, collecting errors.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		if err := s.Stop(ctx); err != nil {
			logger.ErrorJ("lifecycle", map[string]any{"service": s.Name(), "op": "stop", "err": err.Error()})
			errs = append(errs, err)
			continue
		}
		logger.InfoJ("lifecycle", map[string]any{"service": s.Name(), "op": "stop", "result": "ok"})
	}
	m.started = nil
	return errors.Join(errs...)
}
