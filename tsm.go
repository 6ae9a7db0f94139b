// Package tsm is a hierarchical, event-driven state machine engine. Composite
// states are full machines with their own transition tables; events are
// delivered to the most specific active machine first and bubble to its
// ancestors when unhandled there.
package tsm

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stateforward/go-tsm/elements"
	"github.com/stateforward/go-tsm/kinds"
	"github.com/stateforward/go-tsm/queue"
)

var (
	// ErrUnexpectedStop is returned by Run when the event queue stops while
	// the machine was not exiting. Only OnExit of the root may stop the queue.
	ErrUnexpectedStop  = errors.New("tsm: event queue stopped while machine was not exiting")
	ErrNoStartState    = errors.New("tsm: start state not set")
	ErrNoEventQueue    = errors.New("tsm: root machine has no event queue")
	ErrUnreachableStop = errors.New("tsm: stop state is not reachable")
)

/******* Element *******/

type Element = elements.Element

type element struct {
	kind uint64
	name string
	id   string
}

func (element *element) Kind() uint64 {
	if element == nil {
		return 0
	}
	return element.kind
}

func (element *element) Id() string {
	if element == nil {
		return ""
	}
	return element.id
}

func (element *element) Name() string {
	if element == nil {
		return ""
	}
	return element.name
}

func (element *element) String() string {
	return element.Name()
}

/******* Event *******/

// Event identifies a stimulus. Two events are equal when their ids are.
type Event struct {
	ID int
}

func (event Event) Kind() uint64 {
	return kinds.Event
}

func (event Event) Id() string {
	return strconv.Itoa(event.ID)
}

func (event Event) Name() string {
	return "event/" + event.Id()
}

func (event Event) String() string {
	return event.Name()
}

// EventQueue is the blocking FIFO a root machine consumes.
type EventQueue = queue.Queue[Event]

func NewEventQueue() *EventQueue {
	return queue.New[Event]()
}

/******* State *******/

// State is a node of the hierarchy. Implementations must be comparable,
// which in practice means pointer types.
type State interface {
	elements.NamedElement
	OnEntry()
	OnExit()
}

// Composite is implemented by states that contain an active sub-state: the
// StateMachine and the OrthogonalHSM.
type Composite interface {
	State
	// CurrentState returns the active sub-state, or nil while the composite
	// is not active.
	CurrentState() State
	Parent() Composite
	Events() Events
	Execute(event Event)

	handle(from Composite, event Event)
	leave(join bool)
	recognizes(event Event) bool
	setParent(parent Composite)
}

// BaseState is a leaf state with optional entry and exit hooks. Application
// types may embed it and shadow OnEntry/OnExit.
type BaseState struct {
	element
	entry func()
	exit  func()
}

type StateOption func(*BaseState)

func WithEntry(fn func()) StateOption {
	return func(state *BaseState) {
		state.entry = fn
	}
}

func WithExit(fn func()) StateOption {
	return func(state *BaseState) {
		state.exit = fn
	}
}

func NewState(name string, opts ...StateOption) *BaseState {
	state := &BaseState{
		element: element{kind: kinds.State, name: name, id: name},
	}
	for _, opt := range opts {
		opt(state)
	}
	return state
}

func (state *BaseState) OnEntry() {
	if state.entry != nil {
		state.entry()
	}
}

func (state *BaseState) OnExit() {
	if state.exit != nil {
		state.exit()
	}
}

func nameOf(state State) string {
	if state == nil {
		return "<none>"
	}
	return state.Name()
}

/******* Trace *******/

// Trace is called at the start of every engine step with the owning machine
// first in elements. The returned func, if any, is called when the step ends.
type Trace func(ctx context.Context, step string, elements ...Element) func(...any)

func chain(first, second Trace) Trace {
	if first == nil {
		return second
	}
	return func(ctx context.Context, step string, elements ...Element) func(...any) {
		a := first(ctx, step, elements...)
		b := second(ctx, step, elements...)
		return func(results ...any) {
			if b != nil {
				b(results...)
			}
			if a != nil {
				a(results...)
			}
		}
	}
}

func noop(...any) {}

func errorf(machine Composite, err error) error {
	return fmt.Errorf("%s: %w", machine.Name(), err)
}
