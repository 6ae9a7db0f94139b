package tsm

import (
	"maps"

	"github.com/stateforward/go-tsm/kinds"
)

// OrthogonalHSM composes two sibling machines that are active at the same
// time and share one event stream. Both run on the goroutine dispatching
// through the composite; there is no concurrency between them.
//
// An event goes to the first child, hsm1 before hsm2, whose recognized events
// contain it. Events neither child recognizes, and events that bubble up
// unhandled from the child they were routed to, go to the composite's parent.
type OrthogonalHSM struct {
	StateMachine
	hsm1 Composite
	hsm2 Composite
}

// NewOrthogonal reparents hsm1 and hsm2 to the new composite.
func NewOrthogonal(name string, eventQueue *EventQueue, hsm1, hsm2 Composite, opts ...Option) *OrthogonalHSM {
	orthogonal := &OrthogonalHSM{
		hsm1: hsm1,
		hsm2: hsm2,
	}
	orthogonal.init(orthogonal, kinds.Orthogonal, name, hsm1, nil, eventQueue, opts)
	hsm1.setParent(orthogonal)
	hsm2.setParent(orthogonal)
	return orthogonal
}

func (orthogonal *OrthogonalHSM) Hsm1() Composite {
	return orthogonal.hsm1
}

func (orthogonal *OrthogonalHSM) Hsm2() Composite {
	return orthogonal.hsm2
}

// OnEntry enters hsm1, then hsm2, then activates the composite.
func (orthogonal *OrthogonalHSM) OnEntry() {
	orthogonal.hsm1.OnEntry()
	orthogonal.hsm2.OnEntry()
	orthogonal.enter(false)
}

// OnExit exits both children, then the composite itself.
func (orthogonal *OrthogonalHSM) OnExit() {
	orthogonal.leave(true)
}

func (orthogonal *OrthogonalHSM) leave(join bool) {
	orthogonal.exit(func() {
		orthogonal.hsm1.OnExit()
		orthogonal.hsm2.OnExit()
	}, join)
}

// CurrentState reports hsm1 as the representative active branch. Query the
// children directly for the state of each branch.
func (orthogonal *OrthogonalHSM) CurrentState() State {
	if orthogonal.StateMachine.CurrentState() == nil {
		return nil
	}
	return orthogonal.hsm1
}

func (orthogonal *OrthogonalHSM) Execute(event Event) {
	orthogonal.handle(nil, event)
}

func (orthogonal *OrthogonalHSM) handle(from Composite, event Event) {
	defer orthogonal.begin("Execute", event)()
	if target := orthogonal.route(event); target != nil && target != from {
		innermost(target).Execute(event)
		return
	}
	orthogonal.bubble(event)
}

func (orthogonal *OrthogonalHSM) route(event Event) Composite {
	switch {
	case orthogonal.hsm1.recognizes(event):
		return orthogonal.hsm1
	case orthogonal.hsm2.recognizes(event):
		return orthogonal.hsm2
	}
	return nil
}

// Events returns the union of both children's recognized events.
func (orthogonal *OrthogonalHSM) Events() Events {
	events := orthogonal.hsm1.Events()
	maps.Copy(events, orthogonal.hsm2.Events())
	return events
}

func (orthogonal *OrthogonalHSM) recognizes(event Event) bool {
	return orthogonal.hsm1.recognizes(event) || orthogonal.hsm2.recognizes(event)
}
