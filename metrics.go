package ghostmap

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters updated by states and the merge engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mapOps         *prometheus.CounterVec // map operations by op
	facts          *prometheus.CounterVec // inferred facts by kind
	merges         prometheus.Counter
	pairsSearched  prometheus.Counter
	pairsAbandoned prometheus.Counter
	solverQueries  prometheus.Counter
	iterations     prometheus.Gauge // iterations of the last driver run
}

// NewMetrics returns a new set of metrics registered on reg. If reg is nil
// the metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mapOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostmap_map_operations_total",
				Help: "Number of map operations performed.",
			},
			[]string{"op"},
		),
		facts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghostmap_facts_total",
				Help: "Number of facts inferred at merge points.",
			},
			[]string{"kind"},
		),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostmap_merges_total",
			Help: "Number of merges of successor states.",
		}),
		pairsSearched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostmap_pairs_searched_total",
			Help: "Number of ordered map pairs searched for relations.",
		}),
		pairsAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostmap_pairs_abandoned_total",
			Help: "Number of map pairs abandoned after a contradiction.",
		}),
		solverQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ghostmap_solver_queries_total",
			Help: "Number of solver queries issued.",
		}),
		iterations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ghostmap_fixpoint_iterations",
			Help: "Number of iterations of the last fixed-point run.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.mapOps, m.facts, m.merges, m.pairsSearched, m.pairsAbandoned, m.solverQueries, m.iterations)
	}
	return m
}

func (m *Metrics) mapOp(op string) {
	if m != nil {
		m.mapOps.With(prometheus.Labels{"op": op}).Inc()
	}
}

func (m *Metrics) fact(kind FactKind) {
	if m != nil {
		m.facts.With(prometheus.Labels{"kind": kind.String()}).Inc()
	}
}

func (m *Metrics) merge() {
	if m != nil {
		m.merges.Inc()
	}
}

func (m *Metrics) pairSearched() {
	if m != nil {
		m.pairsSearched.Inc()
	}
}

func (m *Metrics) pairAbandoned() {
	if m != nil {
		m.pairsAbandoned.Inc()
	}
}

func (m *Metrics) solverQuery() {
	if m != nil {
		m.solverQueries.Inc()
	}
}

func (m *Metrics) setIterations(n int) {
	if m != nil {
		m.iterations.Set(float64(n))
	}
}
