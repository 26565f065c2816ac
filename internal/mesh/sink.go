package mesh

// AdmitRecord captures an admitted order for downstream sinks.
type AdmitRecord struct {
	Hash      string `json:"hash"`
	ChainID   int64  `json:"chainId"`
	Maker     string `json:"maker"`
	Expiry    int64  `json:"expiry"`
	Source    string `json:"source"`
	FirstSeen int64  `json:"firstSeen"`
}

// OrderSink defines a non-blocking hook to export admitted orders.
// Implementations must return quickly; errors should be internalized.
type OrderSink interface {
	Publish(AdmitRecord)
}

// noopSink is the default sink: no-op.
type noopSink struct{}

func (noopSink) Publish(AdmitRecord) {}

// MultiSink fans a record out to each sink in order.
type MultiSink []OrderSink

func (m MultiSink) Publish(r AdmitRecord) {
	for _, s := range m {
		s.Publish(r)
	}
}
