package metrics_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stateforward/go-tsm"
	"github.com/stateforward/go-tsm/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.New(registry, "tsm")

	e, unknown := tsm.Event{ID: 1}, tsm.Event{ID: 2}
	a, b := tsm.NewState("A"), tsm.NewState("B")
	sm := tsm.New("Counted", a, nil, tsm.NewEventQueue(),
		tsm.WithPolicy(tsm.ManualPolicy{}),
		tsm.WithTrace(collector.Trace),
	)
	sm.Add(a, e, b)
	sm.Add(b, e, a, tsm.WithGuard(func(tsm.Event) bool { return false }))
	sm.OnEntry()
	sm.Dispatch(e)
	sm.Dispatch(e)
	sm.Dispatch(unknown)
	sm.OnExit()

	families, err := registry.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			switch {
			case metric.GetCounter() != nil:
				values[family.GetName()] = metric.GetCounter().GetValue()
			case metric.GetHistogram() != nil:
				values[family.GetName()] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	assert.Equal(t, 1.0, values["tsm_transitions_total"])
	assert.Equal(t, 1.0, values["tsm_guard_rejections_total"])
	assert.Equal(t, 1.0, values["tsm_unhandled_events_total"])
	assert.Equal(t, 1.0, values["tsm_exits_total"])
	assert.Equal(t, 3.0, values["tsm_execute_duration_seconds"])
	count, err := testutil.GatherAndCount(registry)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestCollectorBubbles(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.New(registry, "")

	x := tsm.Event{ID: 7}
	q := tsm.NewEventQueue()
	inner := tsm.NewState("Inner")
	child := tsm.New("Child", inner, nil, q, tsm.WithTrace(collector.Trace))
	done := tsm.NewState("Done")
	parent := tsm.New("Parent", child, nil, q, tsm.WithPolicy(tsm.ManualPolicy{}))
	parent.Add(child, x, done)
	parent.OnEntry()
	parent.Dispatch(x)

	count, err := testutil.GatherAndCount(registry, "bubbled_events_total", "exits_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCollectorUnregistered(t *testing.T) {
	collector := metrics.New(nil, "tsm")
	assert.Nil(t, collector.Trace(context.Background(), "transition"))
}
