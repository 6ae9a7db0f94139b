// Package plantuml renders a machine hierarchy and its transition tables as a
// PlantUML state diagram.
package plantuml

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/stateforward/go-tsm"
	"github.com/stateforward/go-tsm/pkg/set"
)

type machine interface {
	tsm.Composite
	Table() *tsm.TransitionTable
	StartState() tsm.State
	StopState() tsm.State
}

type orthogonal interface {
	Hsm1() tsm.Composite
	Hsm2() tsm.Composite
}

type Option func(*generator)

// WithEventNames labels transitions with names instead of event ids.
func WithEventNames(names map[tsm.Event]string) Option {
	return func(g *generator) {
		g.events = names
	}
}

type generator struct {
	w       *bufio.Writer
	events  map[tsm.Event]string
	visited set.Set[tsm.State]
}

func Generate(w io.Writer, root tsm.Composite, opts ...Option) error {
	g := &generator{
		w:       bufio.NewWriter(w),
		visited: set.New[tsm.State](),
	}
	for _, opt := range opts {
		opt(g)
	}
	fmt.Fprintln(g.w, "@startuml")
	g.composite(0, root)
	fmt.Fprintln(g.w, "@enduml")
	return g.w.Flush()
}

func id(state tsm.State) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, state.Name())
}

func (g *generator) label(event tsm.Event) string {
	if name, ok := g.events[event]; ok {
		return name
	}
	return event.Name()
}

func (g *generator) composite(depth int, composite tsm.Composite) {
	if g.visited.Contains(composite) {
		return
	}
	g.visited.Add(composite)
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(g.w, "%sstate %s {\n", indent, id(composite))
	if branches, ok := composite.(orthogonal); ok {
		g.composite(depth+1, branches.Hsm1())
		fmt.Fprintf(g.w, "%s  --\n", indent)
		g.composite(depth+1, branches.Hsm2())
	} else if sm, ok := composite.(machine); ok {
		g.machine(depth+1, sm)
	}
	fmt.Fprintf(g.w, "%s}\n", indent)
}

func (g *generator) machine(depth int, sm machine) {
	indent := strings.Repeat("  ", depth)
	states := []tsm.State{}
	seen := set.New[tsm.State]()
	collect := func(state tsm.State) {
		if state != nil && !seen.Contains(state) {
			seen.Add(state)
			states = append(states, state)
		}
	}
	collect(sm.StartState())
	for transition := range sm.Table().All() {
		collect(transition.Source())
		collect(transition.Target())
	}
	collect(sm.StopState())
	for _, state := range states {
		if nested, ok := state.(tsm.Composite); ok {
			g.composite(depth, nested)
		} else {
			fmt.Fprintf(g.w, "%sstate %s\n", indent, id(state))
		}
	}
	if start := sm.StartState(); start != nil {
		fmt.Fprintf(g.w, "%s[*] --> %s\n", indent, id(start))
	}
	for transition := range sm.Table().All() {
		label := g.label(transition.Event())
		if transition.Guarded() {
			label += " [guard]"
		}
		if transition.HasAction() {
			label += " / action"
		}
		fmt.Fprintf(g.w, "%s%s --> %s : %s\n", indent, id(transition.Source()), id(transition.Target()), label)
	}
	if stop := sm.StopState(); stop != nil {
		fmt.Fprintf(g.w, "%s%s --> [*]\n", indent, id(stop))
	}
}
