package tsm_test

import (
	"testing"
	"time"

	"github.com/stateforward/go-tsm"
	"github.com/stateforward/go-tsm/pkg/tests"
	"github.com/stateforward/go-tsm/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tick = tsm.Event{ID: 1}
	e    = tsm.Event{ID: 2}
	x    = tsm.Event{ID: 3}
	y    = tsm.Event{ID: 4}
)

func state(rec *tests.Recorder, name string) *tsm.BaseState {
	return tsm.NewState(name,
		tsm.WithEntry(rec.Hook(name+".entry")),
		tsm.WithExit(rec.Hook(name+".exit")),
	)
}

func action(rec *tests.Recorder, name string) tsm.Action {
	return func(tsm.Event) {
		rec.Record(name)
	}
}

func manual() tsm.Option {
	return tsm.WithPolicy(tsm.ManualPolicy{})
}

func TestTrafficLight(t *testing.T) {
	rec := &tests.Recorder{}
	entered := make(chan string, 8)
	light := func(name string) *tsm.BaseState {
		return tsm.NewState(name,
			tsm.WithEntry(func() {
				rec.Record(name + ".entry")
				entered <- name
			}),
			tsm.WithExit(rec.Hook(name+".exit")),
		)
	}
	red, green, yellow := light("Red"), light("Green"), light("Yellow")
	q := tsm.NewEventQueue()
	sm := tsm.New("TrafficLight", red, nil, q)
	sm.Add(red, tick, green, tsm.WithAction(action(rec, "Red->Green")))
	sm.Add(green, tick, yellow, tsm.WithAction(action(rec, "Green->Yellow")))
	sm.Add(yellow, tick, red, tsm.WithAction(action(rec, "Yellow->Red")))
	require.NoError(t, sm.Validate())

	sm.OnEntry()
	require.Equal(t, "Red", <-entered)
	for i := 0; i < 3; i++ {
		q.Push(tick)
	}
	var sequence []string
	for i := 0; i < 3; i++ {
		select {
		case name := <-entered:
			sequence = append(sequence, name)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transition", "sequence", sequence)
		}
	}
	assert.Equal(t, []string{"Green", "Yellow", "Red"}, sequence)
	require.Eventually(t, func() bool { return sm.CurrentState() == tsm.State(red) }, time.Second, time.Millisecond)

	sm.OnExit()
	require.NoError(t, sm.Wait())
	assert.Nil(t, sm.CurrentState())
	assert.True(t, sm.Interrupted())
	assert.True(t, q.Stopped())
	assert.Equal(t, []string{
		"Red.entry",
		"Red.exit", "Red->Green", "Green.entry",
		"Green.exit", "Green->Yellow", "Yellow.entry",
		"Yellow.exit", "Yellow->Red", "Red.entry",
		"Red.exit",
	}, rec.Steps())
}

func TestGuardRejected(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := state(rec, "A"), state(rec, "B")
	sm := tsm.New("Guarded", a, nil, tsm.NewEventQueue(), manual())
	sm.Add(a, e, b,
		tsm.WithGuard(func(tsm.Event) bool { return false }),
		tsm.WithAction(action(rec, "A->B")),
	)
	sm.OnEntry()
	rec.Reset()

	sm.Dispatch(e)
	assert.Same(t, a, sm.CurrentState())
	assert.Empty(t, rec.Steps())
}

func TestGuards(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := state(rec, "A"), state(rec, "B")
	armed := false
	sm := tsm.New("Guards", a, nil, tsm.NewEventQueue(), manual())
	sm.Add(a, e, b, tsm.WithGuards(
		func(tsm.Event) bool { return true },
		func(tsm.Event) bool { return armed },
	))
	sm.OnEntry()

	sm.Dispatch(e)
	assert.Same(t, a, sm.CurrentState())
	armed = true
	sm.Dispatch(e)
	assert.Same(t, b, sm.CurrentState())
}

func TestInternalTransition(t *testing.T) {
	rec := &tests.Recorder{}
	a := state(rec, "A")
	sm := tsm.New("Internal", a, nil, tsm.NewEventQueue(), manual())
	transition := sm.Add(a, e, a, tsm.WithAction(action(rec, "A.internal")))
	require.True(t, transition.Internal())
	sm.OnEntry()
	rec.Reset()

	sm.Dispatch(e)
	sm.Dispatch(e)
	assert.Same(t, a, sm.CurrentState())
	assert.Equal(t, []string{"A.internal", "A.internal"}, rec.Steps())
}

func TestUnhandledEventIsDropped(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := state(rec, "A"), state(rec, "B")
	q := tsm.NewEventQueue()
	sm := tsm.New("Dropping", a, nil, q, tsm.WithTrace(rec.Trace))
	sm.Add(a, e, b)
	sm.OnEntry()

	q.Push(y)
	q.Push(e)
	require.Eventually(t, func() bool { return sm.CurrentState() == tsm.State(b) }, time.Second, time.Millisecond)
	sm.OnExit()
	require.NoError(t, sm.Wait())
	assert.Equal(t, 1, rec.Count("unhandled:"+y.Name()))
}

func TestBubbleToParent(t *testing.T) {
	rec := &tests.Recorder{}
	q := tsm.NewEventQueue()
	c1, c2 := state(rec, "C1"), state(rec, "C2")
	child := tsm.New("Child", c1, nil, q)
	child.Add(c1, y, c2)

	outerDone := state(rec, "OuterDone")
	parent := tsm.New("Parent", child, nil, q, manual())
	parent.Add(child, x, outerDone)
	require.Same(t, parent, child.Parent())

	parent.OnEntry()
	assert.Same(t, child, parent.CurrentState())
	assert.Same(t, c1, child.CurrentState())

	parent.Dispatch(y)
	assert.Same(t, c2, child.CurrentState())
	assert.Same(t, child, parent.CurrentState())

	rec.Reset()
	parent.Dispatch(x)
	assert.Same(t, outerDone, parent.CurrentState())
	assert.Nil(t, child.CurrentState())
	assert.Equal(t, []string{"C2.exit", "OuterDone.entry"}, rec.Steps())
	assert.False(t, q.Stopped())
}

func TestNestedStopState(t *testing.T) {
	rec := &tests.Recorder{}
	q := tsm.NewEventQueue()
	c1, c2 := state(rec, "C1"), state(rec, "C2")
	child := tsm.New("Child", c1, c2, q, tsm.WithTrace(rec.Trace))
	child.Add(c1, y, c2)

	done := state(rec, "Done")
	parent := tsm.New("Parent", child, nil, q, manual())
	parent.Add(child, x, done)

	parent.OnEntry()
	rec.Reset()
	parent.Dispatch(y)
	assert.Nil(t, child.CurrentState())
	assert.True(t, child.Interrupted())
	assert.False(t, q.Stopped())
	assert.Same(t, child, parent.CurrentState())
	assert.Equal(t, 1, rec.Count("OnExit:Child"))
	assert.Equal(t, 1, rec.Count("C2.exit"))

	parent.Dispatch(x)
	assert.Same(t, done, parent.CurrentState())
	assert.Equal(t, 1, rec.Count("OnExit:Child"))
	assert.False(t, q.Stopped())
}

func TestRootStopStateFromWorker(t *testing.T) {
	rec := &tests.Recorder{}
	a, stop := state(rec, "A"), state(rec, "Stop")
	q := tsm.NewEventQueue()
	policy := &tsm.GoroutinePolicy{}
	sm := tsm.New("Root", a, stop, q, tsm.WithPolicy(policy))
	sm.Add(a, e, stop)
	sm.OnEntry()
	q.Push(e)

	select {
	case <-policy.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not return after reaching the stop state")
	}
	require.NoError(t, sm.Wait())
	assert.Nil(t, sm.CurrentState())
	assert.True(t, q.Stopped())
	assert.True(t, rec.Matches("A.entry", "A.exit", "Stop.entry", "Stop.exit"), rec.Steps())

	sm.OnExit()
	assert.True(t, rec.Matches("A.entry", "A.exit", "Stop.entry", "Stop.exit"), rec.Steps())
}

func TestExternalExitWaitsForTransition(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := state(rec, "A"), state(rec, "B")
	started, release := make(chan struct{}), make(chan struct{})
	q := tsm.NewEventQueue()
	sm := tsm.New("Root", a, nil, q)
	sm.Add(a, e, b, tsm.WithAction(func(tsm.Event) {
		close(started)
		<-release
	}))
	sm.OnEntry()
	q.Push(e)
	<-started

	exited := make(chan struct{})
	go func() {
		sm.OnExit()
		close(exited)
	}()
	require.Eventually(t, sm.Interrupted, time.Second, time.Millisecond)
	select {
	case <-exited:
		t.Fatal("OnExit returned while the run loop was still dispatching")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit did not return")
	}
	assert.Nil(t, sm.CurrentState())
	assert.True(t, q.Stopped())
	assert.Equal(t, []string{"A.entry", "A.exit"}, rec.Steps())
	assert.NoError(t, sm.Wait())
}

func TestExternalExitAfterTransition(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := state(rec, "A"), state(rec, "B")
	q := tsm.NewEventQueue()
	sm := tsm.New("Root", a, nil, q)
	sm.Add(a, e, b)
	sm.OnEntry()
	q.Push(e)
	require.Eventually(t, func() bool { return sm.CurrentState() == tsm.State(b) }, time.Second, time.Millisecond)

	sm.OnExit()
	assert.Nil(t, sm.CurrentState())
	assert.Equal(t, []string{"A.entry", "A.exit", "B.entry", "B.exit"}, rec.Steps())
}

type countingPolicy struct {
	tsm.ManualPolicy
	starts int
}

func (policy *countingPolicy) Start(func() error) {
	policy.starts++
}

func TestStartStateAdopted(t *testing.T) {
	q := tsm.NewEventQueue()
	a := tsm.NewState("A")
	innerPolicy := &countingPolicy{}
	inner := tsm.New("Inner", a, nil, q, tsm.WithPolicy(innerPolicy))
	outer := tsm.New("Outer", inner, nil, q, manual())
	require.Same(t, outer, inner.Parent())

	late := tsm.New("Late", tsm.NewState("L"), nil, q)
	stop := tsm.New("Stop", tsm.NewState("S"), nil, q)
	other := tsm.NewStateMachine("Other", q, manual())
	other.SetStartState(late)
	other.SetStopState(stop)
	assert.Same(t, other, late.Parent())
	assert.Same(t, other, stop.Parent())

	outer.OnEntry()
	assert.Same(t, a, inner.CurrentState())
	assert.Equal(t, 0, innerPolicy.starts)
	outer.OnExit()
	assert.True(t, q.Stopped())
	assert.Nil(t, inner.CurrentState())
}

func TestExternalExitWakesWorker(t *testing.T) {
	q := tsm.NewEventQueue()
	a := tsm.NewState("A")
	sm := tsm.New("Root", a, nil, q)
	sm.OnEntry()

	exited := make(chan struct{})
	go func() {
		sm.OnExit()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("OnExit did not return")
	}
	assert.NoError(t, sm.Wait())
	q.Push(e)
	assert.Equal(t, 0, q.Len())
}

func TestRunUnexpectedStop(t *testing.T) {
	q := tsm.NewEventQueue()
	sm := tsm.New("Root", tsm.NewState("A"), nil, q, manual())
	sm.OnEntry()

	errs := make(chan error, 1)
	go func() { errs <- sm.Run() }()
	q.Stop()
	select {
	case err := <-errs:
		require.ErrorIs(t, err, tsm.ErrUnexpectedStop)
		require.ErrorIs(t, err, queue.ErrStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunQuietOnExit(t *testing.T) {
	q := tsm.NewEventQueue()
	sm := tsm.New("Root", tsm.NewState("A"), nil, q, manual())
	sm.OnEntry()

	errs := make(chan error, 1)
	go func() { errs <- sm.Run() }()
	sm.OnExit()
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestLastRegistrationWins(t *testing.T) {
	rec := &tests.Recorder{}
	a, b, c := state(rec, "A"), state(rec, "B"), state(rec, "C")

	var table tsm.TransitionTable
	first := tsm.NewTransition(a, e, b)
	second := tsm.NewTransition(a, e, c)
	table.Insert(a, e, first)
	table.Insert(b, e, tsm.NewTransition(b, e, a))
	table.Insert(a, e, second)
	require.Equal(t, 2, table.Len())
	found, ok := table.Lookup(a, e)
	require.True(t, ok)
	assert.Same(t, second, found)
	_, ok = table.Lookup(c, e)
	assert.False(t, ok)
	var order []*tsm.Transition
	for transition := range table.All() {
		order = append(order, transition)
	}
	require.Len(t, order, 2)
	assert.Same(t, second, order[0])

	sm := tsm.New("Overwrite", a, nil, tsm.NewEventQueue(), manual())
	sm.Add(a, e, b)
	sm.Add(a, e, c)
	sm.OnEntry()
	sm.Dispatch(e)
	assert.Same(t, c, sm.CurrentState())
}

func TestRecognizedEvents(t *testing.T) {
	a, b := tsm.NewState("A"), tsm.NewState("B")
	sm := tsm.NewStateMachine("Events", tsm.NewEventQueue())
	sm.SetStartState(a)
	sm.Add(a, e, b)
	sm.Add(b, x, a)
	sm.Add(b, e, a)
	events := sm.Events()
	assert.Equal(t, 2, events.Size())
	assert.True(t, events.Contains(e))
	assert.True(t, events.Contains(x))
	events.Add(y)
	assert.False(t, sm.Events().Contains(y))
}

func TestValidate(t *testing.T) {
	sm := tsm.New("Empty", nil, nil, nil)
	err := sm.Validate()
	assert.ErrorIs(t, err, tsm.ErrNoStartState)
	assert.ErrorIs(t, err, tsm.ErrNoEventQueue)

	a, b, stop := tsm.NewState("A"), tsm.NewState("B"), tsm.NewState("Stop")
	sm = tsm.New("Unreachable", a, stop, tsm.NewEventQueue())
	sm.Add(a, e, b)
	assert.ErrorIs(t, sm.Validate(), tsm.ErrUnreachableStop)
	sm.Add(b, e, stop)
	assert.NoError(t, sm.Validate())
}

func TestTrace(t *testing.T) {
	rec := &tests.Recorder{}
	a, b := tsm.NewState("A"), tsm.NewState("B")
	sm := tsm.New("M", a, nil, tsm.NewEventQueue(), manual(), tsm.WithTrace(rec.Trace))
	sm.Add(a, e, b,
		tsm.WithGuard(func(tsm.Event) bool { return true }),
		tsm.WithAction(func(tsm.Event) {}),
	)
	sm.Add(b, e, a, tsm.WithGuard(func(tsm.Event) bool { return false }))
	sm.OnEntry()
	sm.Dispatch(e)
	sm.Dispatch(e)
	name := "A--" + e.Name() + "-->B"
	back := "B--" + e.Name() + "-->A"
	assert.Equal(t, []string{
		"OnEntry:M",
		"Execute:" + e.Name(),
		"guard:" + name,
		"transition:" + name,
		"action:" + name,
		"Execute:" + e.Name(),
		"guard:" + back,
		"rejected:" + back,
	}, rec.Steps())
}

func TestTableString(t *testing.T) {
	a, b := tsm.NewState("A"), tsm.NewState("B")
	sm := tsm.New("Dump", a, nil, tsm.NewEventQueue())
	sm.Add(a, e, b)
	sm.Add(b, tick, a)
	assert.Equal(t, "A,2:B\nB,1:A\n", sm.Table().String())
}
