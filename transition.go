package tsm

import (
	"fmt"
	"iter"
	"strings"

	"github.com/stateforward/go-tsm/kinds"
	"github.com/stateforward/go-tsm/pkg/set"
)

// Events is the set of events a machine recognizes.
type Events = set.Set[Event]

type Action func(event Event)

type Guard func(event Event) bool

/******* Transition *******/

// Transition is the immutable edge from --event--> to. A transition whose
// source and target are the same state is internal: it runs its action but
// no exit or entry hooks.
type Transition struct {
	element
	from   State
	to     State
	event  Event
	action Action
	guard  Guard
}

type TransitionOption func(*Transition)

func WithAction(fn Action) TransitionOption {
	return func(transition *Transition) {
		transition.action = fn
	}
}

func WithGuard(fn Guard) TransitionOption {
	return func(transition *Transition) {
		transition.guard = fn
	}
}

// WithGuards requires every guard to pass.
func WithGuards(guards ...Guard) TransitionOption {
	return func(transition *Transition) {
		transition.guard = func(event Event) bool {
			for _, guard := range guards {
				if !guard(event) {
					return false
				}
			}
			return true
		}
	}
}

func NewTransition(from State, event Event, to State, opts ...TransitionOption) *Transition {
	if from == nil || to == nil {
		panic(fmt.Errorf("transition on %s needs both a source and a target state", event))
	}
	transition := &Transition{
		from:  from,
		to:    to,
		event: event,
	}
	name := fmt.Sprintf("%s--%s-->%s", from.Name(), event, to.Name())
	transition.element = element{kind: kinds.External, name: name, id: name}
	if from == to {
		transition.kind = kinds.Internal
	}
	for _, opt := range opts {
		opt(transition)
	}
	return transition
}

func (transition *Transition) Source() State {
	return transition.from
}

func (transition *Transition) Target() State {
	return transition.to
}

func (transition *Transition) Event() Event {
	return transition.event
}

func (transition *Transition) Guarded() bool {
	return transition.guard != nil
}

func (transition *Transition) HasAction() bool {
	return transition.action != nil
}

func (transition *Transition) Internal() bool {
	return kinds.IsKind(transition.kind, kinds.Internal)
}

/******* TransitionTable *******/

type key struct {
	state State
	event Event
}

// TransitionTable maps (state, event) to at most one Transition. Inserting an
// existing key replaces the previous transition: the last registration wins
// and keeps the position of the first one in All.
// The zero value is ready to use.
type TransitionTable struct {
	entries map[key]*Transition
	order   []key
}

func (table *TransitionTable) Insert(from State, event Event, transition *Transition) {
	if table.entries == nil {
		table.entries = map[key]*Transition{}
	}
	k := key{state: from, event: event}
	if _, exists := table.entries[k]; !exists {
		table.order = append(table.order, k)
	}
	table.entries[k] = transition
}

// Lookup returns the transition for (from, event). A miss means the event is
// not handled at this level.
func (table *TransitionTable) Lookup(from State, event Event) (*Transition, bool) {
	if from == nil {
		return nil, false
	}
	transition, ok := table.entries[key{state: from, event: event}]
	return transition, ok
}

func (table *TransitionTable) Len() int {
	return len(table.entries)
}

// All yields the transitions in first-insertion order.
func (table *TransitionTable) All() iter.Seq[*Transition] {
	return func(yield func(*Transition) bool) {
		for _, k := range table.order {
			if !yield(table.entries[k]) {
				return
			}
		}
	}
}

func (table *TransitionTable) String() string {
	var builder strings.Builder
	for transition := range table.All() {
		fmt.Fprintf(&builder, "%s,%d:%s\n", transition.from.Name(), transition.event.ID, transition.to.Name())
	}
	return builder.String()
}
