// Package metrics exposes Prometheus instrumentation for ledger operations.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/ppiankov/claimledger/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "claimledger"

// Metrics groups the ledger collectors on a private registry
// All methods are safe on a nil receiver so components may run uninstrumented.
type Metrics struct {
	registry *prometheus.Registry

	// mutations counts ledger operations.
	// Labels: op (ingest, transition, promote, ...), outcome (ok or error kind)
	mutations *prometheus.CounterVec

	// events counts store change events by kind.
	events *prometheus.CounterVec

	// sweepDuration measures full-corpus sweeps.
	sweepDuration prometheus.Histogram

	// sweepViolations holds the violation counts of the latest sweep.
	// Labels: kind
	sweepViolations *prometheus.GaugeVec
}

// New creates and registers all collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total ledger operations by outcome",
		}, []string{"op", "outcome"}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "events_total",
			Help:      "Total store change events by kind",
		}, []string{"kind"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Full consistency sweep duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		sweepViolations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "violations",
			Help:      "Violations found by the latest sweep",
		}, []string{"kind"}),
	}
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveOperation records one ledger operation and its outcome
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, Outcome(err)).Inc()
}

// ObserveEvent records one store change event
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

// ObserveSweep records a finished sweep
func (m *Metrics) ObserveSweep(report *model.Report, took time.Duration) {
	if m == nil || report == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	m.sweepViolations.Reset()
	for kind, n := range report.CountByKind() {
		m.sweepViolations.WithLabelValues(string(kind)).Set(float64(n))
	}
}

var outcomeKinds = []struct {
	kind  error
	label string
}{
	{model.ErrValidation, "validation"},
	{model.ErrNotFound, "not_found"},
	{model.ErrDuplicateID, "duplicate_id"},
	{model.ErrImmutable, "immutable"},
	{model.ErrStaleRevision, "stale_revision"},
	{model.ErrIllegalTransition, "illegal_transition"},
	{model.ErrUnknownTarget, "unknown_target"},
	{model.ErrDuplicateEdge, "duplicate_edge"},
	{model.ErrWouldCreateCycle, "would_create_cycle"},
	{model.ErrAlreadySuperseded, "already_superseded"},
	{model.ErrBlocked, "blocked"},
	{model.ErrAmbiguous, "ambiguous"},
	{model.ErrNoCanonical, "no_canonical"},
}

// Outcome maps an operation error to a bounded label value
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range outcomeKinds {
		if errors.Is(err, k.kind) {
			return k.label
		}
	}
	return "error"
}
