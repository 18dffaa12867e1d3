// Package sink provides helpers for composing core.Sink implementations.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/modoterra/logsource/pkg/core"
)

// Func adapts a function to core.Sink.
type Func func(ctx context.Context, m core.Message) error

func (f Func) Send(ctx context.Context, m core.Message) error { return f(ctx, m) }

// Named is a sink with a label used in errors and logs.
type Named struct {
	Name string
	Sink core.Sink
}

// Multi sends every message to all sinks, in order. Every sink is attempted;
// failures are joined into one error.
type Multi []Named

func (m Multi) Send(ctx context.Context, msg core.Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Sink.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
