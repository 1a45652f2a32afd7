// Package metrics exposes prometheus instrumentation for the triage
// pipeline. All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tudobem/internal/llm"
)

const namespace = "tudobem"

type Metrics struct {
	registry *prometheus.Registry

	// triageResults counts verdicts by where they came from.
	// Labels: source (model, pattern_cache, fallback)
	triageResults *prometheus.CounterVec

	// parseStages counts which parser strategy handled a model reply.
	// Labels: stage (structured, legacy, heuristic)
	parseStages *prometheus.CounterVec

	// modelCalls counts provider calls.
	// Labels: provider, outcome (success, error)
	modelCalls *prometheus.CounterVec

	// modelLatency measures provider round trips.
	// Labels: provider
	modelLatency *prometheus.HistogramVec

	// gateRejections counts refused corrections.
	// Labels: reason
	gateRejections *prometheus.CounterVec

	// statusUpdates counts report status writes.
	// Labels: path (primary, secondary), outcome (success, error)
	statusUpdates *prometheus.CounterVec

	// mutations counts exercise corrections.
	// Labels: outcome (success, error)
	mutations *prometheus.CounterVec
}

// New registers every collector on a fresh registry, plus the Go and
// process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		triageResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "results_total",
			Help:      "Triage verdicts by source",
		}, []string{"source"}),
		parseStages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "triage",
			Name:      "parse_stage_total",
			Help:      "Model replies by the parser strategy that handled them",
		}, []string{"stage"}),
		modelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Model provider calls by outcome",
		}, []string{"provider", "outcome"}),
		modelLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "latency_seconds",
			Help:      "Model provider call latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"provider"}),
		gateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "gate_rejections_total",
			Help:      "Corrections refused by the SQL gate",
		}, []string{"reason"}),
		statusUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "status_updates_total",
			Help:      "Report status writes by path and outcome",
		}, []string{"path", "outcome"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "mutations_total",
			Help:      "Exercise corrections by outcome",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) TriageResult(source string) {
	if m == nil {
		return
	}
	m.triageResults.WithLabelValues(source).Inc()
}

func (m *Metrics) ParseStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.parseStages.WithLabelValues(stage).Inc()
}

func (m *Metrics) GateRejection(reason string) {
	if m == nil {
		return
	}
	m.gateRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) StatusUpdate(path string, err error) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(path, outcome(err)).Inc()
}

func (m *Metrics) Mutation(err error) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(outcome(err)).Inc()
}

func (m *Metrics) modelCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(provider, outcome(err)).Inc()
	m.modelLatency.WithLabelValues(provider).Observe(d.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// InstrumentedProvider records call counts and latency for a provider
type InstrumentedProvider struct {
	llm.Provider
	name    string
	metrics *Metrics
}

// InstrumentProvider wraps p. The provider label is taken from its model info.
func InstrumentProvider(p llm.Provider, m *Metrics) *InstrumentedProvider {
	name := "unknown"
	if v, ok := p.GetModelInfo()["provider"].(string); ok {
		name = v
	}
	return &InstrumentedProvider{Provider: p, name: name, metrics: m}
}

func (p *InstrumentedProvider) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	start := time.Now()
	reply, err := p.Provider.Complete(ctx, messages)
	p.metrics.modelCall(p.name, time.Since(start), err)
	return reply, err
}
