package objwatch

import (
	"context"
	"errors"
)

// Sink receives every emitted sample, flagged or not.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Emit(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
