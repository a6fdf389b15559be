package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every exported metric.
const Namespace = "recast"

// Tick outcomes.
const (
	TickContinued = "continued"
	TickCompleted = "completed"
	TickFailed    = "failed"
	TickSkipped   = "skipped"
	TickBudget    = "budget_exhausted"
)

// Engine holds the Prometheus metrics exported by the job engine.
type Engine struct {
	Ticks            *prometheus.CounterVec
	Records          *prometheus.CounterVec
	Passes           *prometheus.CounterVec
	EmbeddingsFailed prometheus.Counter
	TickDuration     prometheus.Histogram
	QueueDepth       prometheus.Gauge
}

// NewEngine creates and registers the engine metrics on reg.
// A nil reg uses the default registerer.
func NewEngine(reg prometheus.Registerer) *Engine {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Engine{
		Ticks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ticks_total",
			Help:      "Ticks executed, by outcome",
		}, []string{"outcome"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_total",
			Help:      "Records finished, by result",
		}, []string{"result"}),
		Passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pass_total",
			Help:      "Records reaching each pipeline stage",
		}, []string{"stage"}),
		EmbeddingsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "embeddings_failed_total",
			Help:      "Embedding calls that failed after retries",
		}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of a single tick",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Ticks waiting in the worker queue",
		}),
	}
}

// Tick counts a tick outcome. Safe on a nil Engine.
func (e *Engine) Tick(outcome string) {
	if e == nil {
		return
	}
	e.Ticks.WithLabelValues(outcome).Inc()
}

// RecordsDone adds processed and failed record counts.
func (e *Engine) RecordsDone(processed, failed int) {
	if e == nil {
		return
	}
	e.Records.WithLabelValues("processed").Add(float64(processed))
	e.Records.WithLabelValues("failed").Add(float64(failed))
}

// Stage adds n records to a pipeline stage counter.
func (e *Engine) Stage(stage string, n int) {
	if e == nil || n == 0 {
		return
	}
	e.Passes.WithLabelValues(stage).Add(float64(n))
}

// EmbeddingFailures adds n failed embeddings.
func (e *Engine) EmbeddingFailures(n int) {
	if e == nil || n == 0 {
		return
	}
	e.EmbeddingsFailed.Add(float64(n))
}

// ObserveTick records a tick's duration in seconds.
func (e *Engine) ObserveTick(seconds float64) {
	if e == nil {
		return
	}
	e.TickDuration.Observe(seconds)
}

// SetQueueDepth reports the current queue length.
func (e *Engine) SetQueueDepth(n int) {
	if e == nil {
		return
	}
	e.QueueDepth.Set(float64(n))
}
