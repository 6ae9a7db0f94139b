// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stateforward/go-tsm/elements"
)

// Collector counts engine steps per machine. Install it with
// tsm.WithTrace(collector.Trace).
type Collector struct {
	transitions *prometheus.CounterVec
	unhandled   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	bubbled     *prometheus.CounterVec
	exits       *prometheus.CounterVec
	execute     *prometheus.HistogramVec
}

// New registers the collector's metrics with registerer. A nil registerer
// leaves them unregistered.
func New(registerer prometheus.Registerer, namespace string) *Collector {
	factory := promauto.With(registerer)
	labels := []string{"machine"}
	return &Collector{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transitions fired, including internal ones.",
		}, labels),
		unhandled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unhandled_events_total",
			Help:      "Events dropped because no machine up to the root handled them.",
		}, labels),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_rejections_total",
			Help:      "Matched transitions whose guard returned false.",
		}, labels),
		bubbled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bubbled_events_total",
			Help:      "Events passed from a machine to its parent.",
		}, labels),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exits_total",
			Help:      "Machine exits.",
		}, labels),
		execute: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execute_duration_seconds",
			Help:      "Time spent handling one event at one level, including bubbling.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, labels),
	}
}

// Trace has the signature of tsm.Trace.
func (c *Collector) Trace(ctx context.Context, step string, els ...elements.Element) func(...any) {
	machine := ""
	if len(els) > 0 {
		if named, ok := els[0].(elements.NamedElement); ok {
			machine = named.Name()
		}
	}
	switch step {
	case "transition":
		c.transitions.WithLabelValues(machine).Inc()
	case "unhandled":
		c.unhandled.WithLabelValues(machine).Inc()
	case "rejected":
		c.rejected.WithLabelValues(machine).Inc()
	case "bubble":
		c.bubbled.WithLabelValues(machine).Inc()
	case "OnExit":
		c.exits.WithLabelValues(machine).Inc()
	case "Execute":
		start := time.Now()
		observer := c.execute.WithLabelValues(machine)
		return func(...any) {
			observer.Observe(time.Since(start).Seconds())
		}
	}
	return nil
}
