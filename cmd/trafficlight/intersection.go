package main

import (
	"log/slog"

	"github.com/stateforward/go-tsm"
)

var (
	Tick   = tsm.Event{ID: 1}
	Walk   = tsm.Event{ID: 2}
	Fault  = tsm.Event{ID: 3}
	Repair = tsm.Event{ID: 4}
)

var eventNames = map[tsm.Event]string{
	Tick:   "Tick",
	Walk:   "Walk",
	Fault:  "Fault",
	Repair: "Repair",
}

// intersection is a traffic light with a nested pedestrian crossing, running
// in parallel with a lamp supervisor.
type intersection struct {
	*tsm.OrthogonalHSM
	light      *tsm.StateMachine
	pedestrian *tsm.StateMachine
	lamp       *tsm.StateMachine
	cycles     int
}

func newIntersection(q *tsm.EventQueue, logger *slog.Logger, opts ...tsm.Option) *intersection {
	x := &intersection{}
	enter := func(name string) tsm.StateOption {
		return tsm.WithEntry(func() { logger.Info("enter", "state", name) })
	}
	opts = append([]tsm.Option{tsm.WithLogger(logger)}, opts...)

	waiting := tsm.NewState("Waiting", enter("Waiting"))
	crossing := tsm.NewState("Crossing", enter("Crossing"))
	crossed := tsm.NewState("Crossed", enter("Crossed"))
	x.pedestrian = tsm.New("Pedestrian", waiting, crossed, q, opts...)
	x.pedestrian.Add(waiting, Tick, crossing)
	x.pedestrian.Add(crossing, Tick, crossed)

	red := tsm.NewState("Red", enter("Red"))
	green := tsm.NewState("Green", enter("Green"))
	yellow := tsm.NewState("Yellow", enter("Yellow"))
	x.light = tsm.New("Light", red, nil, q, opts...)
	x.light.Add(red, Tick, green)
	x.light.Add(green, Tick, yellow)
	x.light.Add(yellow, Tick, red, tsm.WithAction(func(tsm.Event) { x.cycles++ }))
	x.light.Add(red, Walk, x.pedestrian)
	x.light.Add(x.pedestrian, Tick, green)

	on := tsm.NewState("On", enter("On"))
	flashing := tsm.NewState("Flashing", enter("Flashing"))
	x.lamp = tsm.New("Lamp", on, nil, q, opts...)
	x.lamp.Add(on, Fault, flashing)
	x.lamp.Add(flashing, Repair, on)

	x.OrthogonalHSM = tsm.NewOrthogonal("Intersection", q, x.light, x.lamp, opts...)
	return x
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
