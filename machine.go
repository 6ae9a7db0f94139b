package tsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/stateforward/go-tsm/kinds"
)

type Option func(*StateMachine)

// WithParent nests the machine inside parent. Unhandled events bubble to it
// and the machine never starts its own run loop.
func WithParent(parent Composite) Option {
	return func(sm *StateMachine) {
		sm.parent = parent
	}
}

func WithPolicy(policy ExecutionPolicy) Option {
	return func(sm *StateMachine) {
		sm.policy = policy
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(sm *StateMachine) {
		sm.logger = logger
	}
}

// WithTrace adds trace to the machine. Several traces run in registration
// order.
func WithTrace(trace Trace) Option {
	return func(sm *StateMachine) {
		if trace != nil {
			sm.trace = chain(sm.trace, trace)
		}
	}
}

// WithContext sets the context handed to traces.
func WithContext(ctx context.Context) Option {
	return func(sm *StateMachine) {
		sm.ctx = ctx
	}
}

func WithID(id string) Option {
	return func(sm *StateMachine) {
		sm.id = id
	}
}

// StateMachine is a composite State with its own transition table. A machine
// without a parent is a root: entering it starts its run loop through its
// ExecutionPolicy, exiting it stops the event queue and the loop.
type StateMachine struct {
	element
	self   Composite
	parent Composite

	mu      sync.RWMutex
	current State
	start   State
	stop    State

	queue  *EventQueue
	table  TransitionTable
	events Events

	interrupted atomic.Bool

	policy ExecutionPolicy
	logger *slog.Logger
	trace  Trace
	ctx    context.Context
}

// New creates a machine that starts in start and exits itself once it
// reaches stop. eventQueue is owned by the caller and shared by the whole
// hierarchy; only the root consumes it.
func New(name string, start, stop State, eventQueue *EventQueue, opts ...Option) *StateMachine {
	sm := &StateMachine{}
	sm.init(sm, kinds.StateMachine, name, start, stop, eventQueue, opts)
	return sm
}

// NewStateMachine creates a machine whose start and stop states are set later
// with SetStartState and SetStopState.
func NewStateMachine(name string, eventQueue *EventQueue, opts ...Option) *StateMachine {
	return New(name, nil, nil, eventQueue, opts...)
}

func (sm *StateMachine) init(self Composite, kind uint64, name string, start, stop State, eventQueue *EventQueue, opts []Option) {
	sm.self = self
	sm.element = element{kind: kind, name: name, id: uuid.Must(uuid.NewV7()).String()}
	sm.start = start
	sm.stop = stop
	sm.queue = eventQueue
	sm.events = Events{}
	sm.policy = &GoroutinePolicy{}
	sm.logger = slog.Default()
	sm.ctx = context.Background()
	for _, opt := range opts {
		opt(sm)
	}
	sm.logger = sm.logger.With("machine", sm.name, "id", sm.id)
	sm.adopt(start)
	sm.adopt(stop)
}

// Add registers from --event--> to and records event as recognized by this
// machine. A composite state passed here, or as start or stop state, without
// a parent is adopted.
func (sm *StateMachine) Add(from State, event Event, to State, opts ...TransitionOption) *Transition {
	transition := NewTransition(from, event, to, opts...)
	sm.table.Insert(from, event, transition)
	sm.events.Add(event)
	sm.adopt(from)
	sm.adopt(to)
	return transition
}

func (sm *StateMachine) adopt(state State) {
	child, ok := state.(Composite)
	if !ok || child == sm.self || child.Parent() != nil {
		return
	}
	child.setParent(sm.self)
}

func (sm *StateMachine) StartState() State {
	return sm.start
}

func (sm *StateMachine) StopState() State {
	return sm.stop
}

func (sm *StateMachine) SetStartState(state State) {
	sm.start = state
	sm.adopt(state)
}

func (sm *StateMachine) SetStopState(state State) {
	sm.stop = state
	sm.adopt(state)
}

func (sm *StateMachine) CurrentState() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

func (sm *StateMachine) setCurrent(state State) {
	sm.mu.Lock()
	sm.current = state
	sm.mu.Unlock()
}

func (sm *StateMachine) Parent() Composite {
	return sm.parent
}

func (sm *StateMachine) setParent(parent Composite) {
	sm.parent = parent
}

// Events returns a copy of the events passed to Add.
func (sm *StateMachine) Events() Events {
	return sm.events.Clone()
}

func (sm *StateMachine) recognizes(event Event) bool {
	return sm.events.Contains(event)
}

func (sm *StateMachine) Table() *TransitionTable {
	return &sm.table
}

func (sm *StateMachine) Queue() *EventQueue {
	return sm.queue
}

// Interrupted reports whether the machine has exited since it was last
// entered.
func (sm *StateMachine) Interrupted() bool {
	return sm.interrupted.Load()
}

func (sm *StateMachine) Logger() *slog.Logger {
	return sm.logger
}

// Validate checks the configured topology.
func (sm *StateMachine) Validate() error {
	var errs []error
	if sm.start == nil {
		errs = append(errs, errorf(sm.self, ErrNoStartState))
	}
	if sm.parent == nil && sm.queue == nil {
		errs = append(errs, errorf(sm.self, ErrNoEventQueue))
	}
	if sm.stop != nil && sm.stop != sm.start {
		reachable := false
		for transition := range sm.table.All() {
			if transition.to == sm.stop {
				reachable = true
				break
			}
		}
		if !reachable {
			errs = append(errs, fmt.Errorf("%s: %w: %s", sm.name, ErrUnreachableStop, sm.stop.Name()))
		}
	}
	return errors.Join(errs...)
}

// OnEntry activates the machine in its start state and enters that state. On
// a root it also starts the run loop.
func (sm *StateMachine) OnEntry() {
	sm.enter(true)
}

func (sm *StateMachine) enter(enterStart bool) {
	defer sm.begin("OnEntry")()
	sm.logger.Debug("entering", "start", nameOf(sm.start))
	sm.interrupted.Store(false)
	sm.setCurrent(sm.start)
	if enterStart && sm.start != nil {
		sm.start.OnEntry()
	}
	if sm.parent == nil {
		sm.policy.Start(sm.Run)
	}
}

// OnExit exits the active sub-state and deactivates the machine. On a root it
// first stops the event queue and waits for the run loop to return, so it
// must not be called from an action: reach the stop state instead. Exiting an
// inactive nested machine does nothing.
func (sm *StateMachine) OnExit() {
	sm.leave(true)
}

func (sm *StateMachine) leave(join bool) {
	sm.exit(sm.exitCurrent, join)
}

func (sm *StateMachine) exitCurrent() {
	if current := sm.CurrentState(); current != nil {
		current.OnExit()
	}
}

// exit deactivates the machine after running children. A root signals its run
// loop and, when join is set, waits for it before any exit hook runs, so an
// event in flight completes first. The run loop itself passes join=false.
func (sm *StateMachine) exit(children func(), join bool) {
	if sm.CurrentState() == nil {
		if sm.parent != nil {
			return
		}
		if sm.interrupted.Load() {
			if join {
				sm.join()
			}
			return
		}
	}
	defer sm.begin("OnExit")()
	sm.interrupted.Store(true)
	if sm.parent == nil {
		if sm.queue != nil {
			sm.queue.Stop()
		}
		if join {
			sm.join()
		}
	}
	children()
	sm.setCurrent(nil)
	sm.logger.Debug("exited")
}

func (sm *StateMachine) join() {
	if err := sm.policy.Stop(); err != nil {
		sm.logger.Error("run loop failed", "error", err)
	}
}

// Wait blocks until the run loop of a root machine has returned.
func (sm *StateMachine) Wait() error {
	return sm.policy.Stop()
}

// Run consumes the event queue until the machine exits. It returns nil on a
// normal exit and ErrUnexpectedStop when the queue was stopped by anything
// but OnExit.
func (sm *StateMachine) Run() error {
	if sm.queue == nil {
		return errorf(sm.self, ErrNoEventQueue)
	}
	for !sm.interrupted.Load() {
		event, err := sm.queue.Pop()
		if err != nil {
			if sm.interrupted.Load() {
				sm.logger.Warn("exiting event loop on interrupt")
				return nil
			}
			err = fmt.Errorf("%s: %w: %w", sm.name, ErrUnexpectedStop, err)
			sm.logger.Error("event loop failed", "error", err)
			return err
		}
		sm.Dispatch(event)
	}
	return nil
}

// Dispatch delivers event to the most specific active machine below sm on the
// calling goroutine. It must not run concurrently with the run loop.
func (sm *StateMachine) Dispatch(event Event) {
	innermost(sm.self).Execute(event)
}

// innermost walks down the chain of active composites and returns the
// deepest one whose active sub-state is not itself an active composite.
func innermost(machine Composite) Composite {
	for {
		child, ok := machine.CurrentState().(Composite)
		if !ok || child.CurrentState() == nil {
			return machine
		}
		machine = child
	}
}

// Execute handles event at this level, bubbling it to the parent on a miss.
func (sm *StateMachine) Execute(event Event) {
	sm.handle(nil, event)
}

func (sm *StateMachine) handle(_ Composite, event Event) {
	defer sm.begin("Execute", event)()
	current := sm.CurrentState()
	sm.logger.Debug("execute", "state", nameOf(current), "event", event.ID)
	transition, ok := sm.table.Lookup(current, event)
	if !ok {
		sm.bubble(event)
		return
	}
	sm.fire(transition, event)
}

func (sm *StateMachine) bubble(event Event) {
	if sm.parent != nil {
		defer sm.begin("bubble", event, sm.parent)()
		sm.parent.handle(sm.self, event)
		return
	}
	defer sm.begin("unhandled", event)()
	sm.logger.Error("reached top level machine, cannot handle event", "state", nameOf(sm.CurrentState()), "event", event.ID)
}

func (sm *StateMachine) fire(transition *Transition, event Event) {
	if transition.guard != nil && !sm.evaluate(transition, event) {
		sm.begin("rejected", transition)()
		sm.logger.Info("guard prevented transition", "transition", transition.Name())
		return
	}
	end := sm.begin("transition", transition)
	external := !transition.Internal()
	if external {
		transition.from.OnExit()
	}
	if transition.action != nil {
		sm.act(transition, event)
	}
	if sm.interrupted.Load() {
		if external {
			sm.setCurrent(nil)
		}
		sm.logger.Debug("exited during transition", "transition", transition.Name())
		end()
		return
	}
	if external {
		transition.to.OnEntry()
	}
	sm.setCurrent(transition.to)
	sm.logger.Debug("next state", "state", transition.to.Name())
	end(transition.to)
	if sm.stop != nil && transition.to == sm.stop {
		sm.logger.Debug("reached stop state", "state", sm.stop.Name())
		sm.self.leave(false)
	}
}

func (sm *StateMachine) evaluate(transition *Transition, event Event) bool {
	end := sm.begin("guard", transition)
	result := transition.guard(event)
	end(result)
	return result
}

func (sm *StateMachine) act(transition *Transition, event Event) {
	defer sm.begin("action", transition)()
	transition.action(event)
}

// begin opens a trace step for sm and returns the func that closes it.
func (sm *StateMachine) begin(step string, elements ...Element) func(...any) {
	if sm.trace == nil {
		return noop
	}
	if end := sm.trace(sm.ctx, step, append([]Element{sm.self}, elements...)...); end != nil {
		return end
	}
	return noop
}
