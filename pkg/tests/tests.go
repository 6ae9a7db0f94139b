// Package tests holds helpers shared by the engine's test suites.
package tests

import (
	"context"
	"slices"
	"sync"

	"github.com/stateforward/go-tsm/elements"
)

// Recorder collects an ordered log of hook invocations and trace steps. It is
// safe to use from the machine's worker and the test goroutine at once.
type Recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *Recorder) Record(step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
}

// Hook returns a func that records step each time it is called.
func (r *Recorder) Hook(step string) func() {
	return func() { r.Record(step) }
}

func (r *Recorder) Steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.steps)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = nil
}

func (r *Recorder) Matches(expected ...string) bool {
	return slices.Equal(r.Steps(), expected)
}

// Count returns how many times step was recorded.
func (r *Recorder) Count(step string) int {
	n := 0
	for _, s := range r.Steps() {
		if s == step {
			n++
		}
	}
	return n
}

// Trace records "<step>:<name>" for the last named element of every engine
// trace step. Its signature matches tsm.Trace.
func (r *Recorder) Trace(ctx context.Context, step string, els ...elements.Element) func(...any) {
	name := ""
	for i := len(els) - 1; i >= 0; i-- {
		if named, ok := els[i].(elements.NamedElement); ok {
			name = named.Name()
			break
		}
	}
	r.Record(step + ":" + name)
	return func(...any) {}
}
