// Package metrics exports engine events to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/keylink/internal/domain"
)

const namespace = "keylink"

// Emitter implements ports.EventEmitter on its own registry.
type Emitter struct {
	registry *prometheus.Registry

	completed   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	retries     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	attempts    *prometheus.HistogramVec
	refreshed   *prometheus.CounterVec
	invalidated *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	unitRetries prometheus.Counter
}

// NewEmitter creates an emitter with every collector registered.
func NewEmitter() *Emitter {
	e := &Emitter{
		registry: prometheus.NewRegistry(),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "completed_total",
				Help:      "Commands answered by the vehicle.",
			},
			[]string{"domain", "action"},
		),
		failed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "failed_total",
				Help:      "Commands that ended in a terminal failure.",
			},
			[]string{"domain", "action", "reason"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "retries_total",
				Help:      "Command retries by the state that was retried.",
			},
			[]string{"domain", "state"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "duration_seconds",
				Help:      "Time from a command becoming head to its completion.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30},
			},
			[]string{"domain"},
		),
		attempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "command",
				Name:      "attempts",
				Help:      "Attempts needed by completed commands.",
				Buckets:   []float64{1, 2, 3, 4, 5, 6},
			},
			[]string{"domain"},
		),
		refreshed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "refreshed_total",
				Help:      "Sessions established from vehicle session info.",
			},
			[]string{"domain"},
		),
		invalidated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "invalidated_total",
				Help:      "Established sessions that were invalidated.",
			},
			[]string{"domain"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Commands currently queued, head included.",
		}),
		unitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "unit_retries_total",
			Help:      "Unit writes resent after a failure or missing confirmation.",
		}),
	}
	e.registry.MustRegister(
		e.completed, e.failed, e.retries, e.duration, e.attempts,
		e.refreshed, e.invalidated, e.queueDepth, e.unitRetries,
	)
	return e
}

// Registry returns the registry the collectors live in.
func (e *Emitter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Emitter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

func (e *Emitter) OnCommandCompleted(d domain.Domain, action domain.Action, attempts int, elapsed time.Duration) {
	e.completed.WithLabelValues(d.String(), action.String()).Inc()
	e.duration.WithLabelValues(d.String()).Observe(elapsed.Seconds())
	e.attempts.WithLabelValues(d.String()).Observe(float64(attempts))
}

func (e *Emitter) OnCommandFailed(d domain.Domain, action domain.Action, reason domain.FailureReason) {
	e.failed.WithLabelValues(d.String(), action.String(), reason.String()).Inc()
}

func (e *Emitter) OnCommandRetry(d domain.Domain, state domain.CommandState) {
	e.retries.WithLabelValues(d.String(), state.String()).Inc()
}

func (e *Emitter) OnSessionRefreshed(d domain.Domain) {
	e.refreshed.WithLabelValues(d.String()).Inc()
}

func (e *Emitter) OnSessionInvalidated(d domain.Domain) {
	e.invalidated.WithLabelValues(d.String()).Inc()
}

func (e *Emitter) OnQueueDepth(depth int) {
	e.queueDepth.Set(float64(depth))
}

func (e *Emitter) OnUnitRetry() {
	e.unitRetries.Inc()
}
