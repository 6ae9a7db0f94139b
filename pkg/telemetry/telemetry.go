// Package telemetry turns engine trace steps into OpenTelemetry spans.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/stateforward/go-tsm"
	"github.com/stateforward/go-tsm/elements"
	"github.com/stateforward/go-tsm/kinds"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/stateforward/go-tsm"

// Trace returns a tsm.Trace that opens one span per engine step. A nil tracer
// uses the global provider. A step starts as a child of the innermost step
// still open in the same machine hierarchy, so a dispatch produces one tree:
// Execute, then transition, then action and the hooks below it. Steps opened
// while nothing is open in the hierarchy are children of the machine context.
func Trace(tracer trace.Tracer) func(ctx context.Context, step string, els ...elements.Element) func(...any) {
	if tracer == nil {
		tracer = otel.Tracer(instrumentation)
	}
	open := &steps{open: map[elements.Element][]context.Context{}}
	return func(ctx context.Context, step string, els ...elements.Element) func(...any) {
		key := hierarchy(els)
		ctx, span := tracer.Start(open.parent(key, ctx), "tsm."+step, trace.WithAttributes(attributes(els)...))
		open.push(key, ctx)
		return func(results ...any) {
			for _, result := range results {
				switch result := result.(type) {
				case bool:
					span.SetAttributes(attribute.Bool("tsm.result", result))
				case error:
					span.RecordError(result)
					span.SetStatus(codes.Error, result.Error())
				case elements.NamedElement:
					span.SetAttributes(attribute.String("tsm.next", result.Name()))
				}
			}
			if step == "unhandled" {
				span.SetStatus(codes.Error, "event not handled")
			}
			span.End()
			open.pop(key, ctx)
		}
	}
}

// steps tracks the contexts of open spans per hierarchy root. A root's run
// loop and an external OnEntry or OnExit may trace at the same time, so pop
// removes by identity rather than from the top.
type steps struct {
	mu   sync.Mutex
	open map[elements.Element][]context.Context
}

func (s *steps) parent(key elements.Element, ctx context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stack := s.open[key]; len(stack) > 0 {
		return stack[len(stack)-1]
	}
	return ctx
}

func (s *steps) push(key elements.Element, ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[key] = append(s.open[key], ctx)
}

func (s *steps) pop(key elements.Element, ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stack := s.open[key]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == ctx {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	if len(stack) == 0 {
		delete(s.open, key)
		return
	}
	s.open[key] = stack
}

// hierarchy returns the root of the machine that traced a step.
func hierarchy(els []elements.Element) elements.Element {
	if len(els) == 0 {
		return nil
	}
	el := els[0]
	for {
		nested, ok := el.(interface{ Parent() tsm.Composite })
		if !ok {
			return el
		}
		parent := nested.Parent()
		if parent == nil {
			return el
		}
		el = parent
	}
}

func attributes(els []elements.Element) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(els)*2)
	for i, el := range els {
		prefix := role(i, el)
		if named, ok := el.(elements.NamedElement); ok {
			attrs = append(attrs, attribute.String(prefix+".name", named.Name()))
		}
		attrs = append(attrs,
			attribute.String(prefix+".id", el.Id()),
			attribute.String(prefix+".kind", kinds.Name(el.Kind())),
			attribute.StringSlice(prefix+".bases", bases(el.Kind())),
		)
	}
	return attrs
}

// bases names every kind el derives from, nearest first.
func bases(kind uint64) []string {
	var names []string
	for _, base := range kinds.Bases(kind) {
		if base == 0 {
			break
		}
		names = append(names, kinds.Name(base))
	}
	return names
}

func role(index int, el elements.Element) string {
	switch {
	case index == 0:
		return "tsm.machine"
	case kinds.IsKind(el.Kind(), kinds.Event):
		return "tsm.event"
	case kinds.IsKind(el.Kind(), kinds.Transition):
		return "tsm.transition"
	case kinds.IsKind(el.Kind(), kinds.StateMachine):
		return "tsm.parent"
	}
	return fmt.Sprintf("tsm.element.%d", index)
}

/******* No-op provider *******/

type Provider struct {
	trace.TracerProvider
}

var (
	provider    = &Provider{}
	tracer      = &Tracer{}
	span        = &Span{}
	spanContext = trace.SpanContext{}
)

// NewProvider returns a TracerProvider whose spans record nothing.
func NewProvider() *Provider {
	return provider
}

func (provider *Provider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tracer
}

type Tracer struct {
	trace.Tracer
}

func (tracer *Tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, span
}

type Span struct {
	trace.Span
}

func (span *Span) End(options ...trace.SpanEndOption)                  {}
func (span *Span) AddEvent(name string, options ...trace.EventOption)  {}
func (span *Span) AddLink(link trace.Link)                             {}
func (span *Span) IsRecording() bool                                   { return false }
func (span *Span) RecordError(err error, options ...trace.EventOption) {}
func (span *Span) SetAttributes(kv ...attribute.KeyValue)              {}
func (span *Span) SetName(name string)                                 {}
func (span *Span) SetStatus(code codes.Code, description string)       {}
func (span *Span) SpanContext() trace.SpanContext                      { return spanContext }
func (span *Span) TracerProvider() trace.TracerProvider                { return provider }
