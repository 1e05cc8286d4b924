// Package metrics exposes counters for vault sequence outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spout"

// Sequence counts terminal outcomes of vault sequences.
type Sequence struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	reauth   prometheus.Counter
	pending  prometheus.Counter
}

func NewSequence() *Sequence {
	reg := prometheus.NewRegistry()
	s := &Sequence{
		registry: reg,
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sequence_total",
			Help:      "Vault sequences by operation and outcome.",
		}, []string{"operation", "outcome"}),
		reauth: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reauth_total",
			Help:      "Primary calls retried after a one-time authorization.",
		}),
		pending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_pending_total",
			Help:      "Receipt waits that ended without an observable confirmation.",
		}),
	}
	reg.MustRegister(s.total, s.reauth, s.pending)
	return s
}

func (s *Sequence) Observe(operation, outcome string) {
	if s == nil {
		return
	}
	s.total.WithLabelValues(operation, outcome).Inc()
}

func (s *Sequence) Reauthorized() {
	if s == nil {
		return
	}
	s.reauth.Inc()
}

func (s *Sequence) Pending() {
	if s == nil {
		return
	}
	s.pending.Inc()
}

// Registry is the gatherer holding this instance's collectors.
func (s *Sequence) Registry() *prometheus.Registry {
	return s.registry
}

// Snapshot flattens the current counter values keyed by metric name and labels.
func (s *Sequence) Snapshot() (map[string]float64, error) {
	out := map[string]float64{}
	if s == nil {
		return out, nil
	}
	families, err := s.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			key := fam.GetName()
			for _, lp := range m.GetLabel() {
				key += "," + lp.GetName() + "=" + lp.GetValue()
			}
			out[key] = m.GetCounter().GetValue()
		}
	}
	return out, nil
}
