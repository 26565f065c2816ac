package metrics

import (
	"bytes"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Package metrics keeps a process-wide registry with families created on
// first use. Label keys are fixed by the first call for a family name;
// later calls must use the same keys. DumpProm renders the Prometheus text
// exposition for the monitoring endpoint and for test assertions.

type registry struct {
	mu        sync.Mutex
	reg       *prometheus.Registry
	counters  map[string]*prometheus.CounterVec
	gauges    map[string]*prometheus.GaugeVec
	summaries map[string]*prometheus.SummaryVec
	keys      map[string][]string
}

var r = newRegistry()

func newRegistry() *registry {
	return &registry{
		reg:       prometheus.NewRegistry(),
		counters:  map[string]*prometheus.CounterVec{},
		gauges:    map[string]*prometheus.GaugeVec{},
		summaries: map[string]*prometheus.SummaryVec{},
		keys:      map[string][]string{},
	}
}

func labelKeys(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	ks := make([]string, 0, len(labels))
	for k := range labels {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// fill returns labels completed against the registered key set so vecs never
// reject a lookup over a missing key.
func (g *registry) fill(name string, labels map[string]string) prometheus.Labels {
	out := prometheus.Labels{}
	for _, k := range g.keys[name] {
		out[k] = labels[k]
	}
	return out
}

// Inc increments a counter family by 1.
func Inc(name string, labels map[string]string) {
	Add(name, labels, 1)
}

// Add adds v to a counter family. v must be non-negative.
func Add(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counters[name]
	if !ok {
		ks := labelKeys(labels)
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: "auto-registered counter"}, ks)
		if err := r.reg.Register(c); err != nil {
			return
		}
		r.counters[name] = c
		r.keys[name] = ks
	}
	c.With(r.fill(name, labels)).Add(v)
}

// AddGauge adds delta to a gauge family (delta may be negative).
func AddGauge(name string, labels map[string]string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.gauge(name, labels)
	if g == nil {
		return
	}
	g.With(r.fill(name, labels)).Add(delta)
}

// SetGauge sets a gauge family to an absolute value.
func SetGauge(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.gauge(name, labels)
	if g == nil {
		return
	}
	g.With(r.fill(name, labels)).Set(v)
}

func (g *registry) gauge(name string, labels map[string]string) *prometheus.GaugeVec {
	gv, ok := g.gauges[name]
	if !ok {
		ks := labelKeys(labels)
		gv = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: "auto-registered gauge"}, ks)
		if err := g.reg.Register(gv); err != nil {
			return nil
		}
		g.gauges[name] = gv
		g.keys[name] = ks
	}
	return gv
}

// ObserveSummary records an observation on a summary family.
func ObserveSummary(name string, labels map[string]string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.summaries[name]
	if !ok {
		ks := labelKeys(labels)
		s = prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       name,
			Help:       "auto-registered summary",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, ks)
		if err := r.reg.Register(s); err != nil {
			return
		}
		r.summaries[name] = s
		r.keys[name] = ks
	}
	s.With(r.fill(name, labels)).Observe(v)
}

// DumpProm renders all families in Prometheus text exposition format.
func DumpProm() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	mfs, err := r.reg.Gather()
	if err != nil {
		return ""
	}
	var buf bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return buf.String()
		}
	}
	return buf.String()
}

// Reset drops all families. Tests call this to isolate assertions.
func Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reg = prometheus.NewRegistry()
	r.counters = map[string]*prometheus.CounterVec{}
	r.gauges = map[string]*prometheus.GaugeVec{}
	r.summaries = map[string]*prometheus.SummaryVec{}
	r.keys = map[string][]string{}
}
