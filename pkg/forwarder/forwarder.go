// Package forwarder republishes an application's log records as outbound messages.
package forwarder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
)

// State is the externally visible state of a Forwarder.
type State string

const (
	StateForwarding State = "forwarding"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrorHandler receives failures reported by the log stream client.
type ErrorHandler func(err *StreamError)

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) { f.logger = logger }
}

// WithErrorHandler sets the hook that receives stream failures.
// The default hook logs the failure at error level.
func WithErrorHandler(h ErrorHandler) Option {
	return func(f *Forwarder) { f.onError = h }
}

// Stats is a snapshot of a Forwarder's counters.
type Stats struct {
	State     State
	Forwarded uint64
	Failed    uint64
	Err       error
}

// Forwarder subscribes to one application's log stream and sends every
// record to a sink as a core.Message. It implements core.Listener and is
// safe for concurrent delivery.
type Forwarder struct {
	applicationID string
	client        core.LogStreamClient
	sink          core.Sink
	logger        *slog.Logger
	onError       ErrorHandler

	completed atomic.Bool
	forwarded atomic.Uint64
	failed    atomic.Uint64

	mu       sync.Mutex
	err      *StreamError
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a forwarder for applicationID. Nothing happens until Start.
func New(applicationID string, client core.LogStreamClient, sink core.Sink, opts ...Option) *Forwarder {
	f := &Forwarder{
		applicationID: applicationID,
		client:        client,
		sink:          sink,
		logger:        slog.Default(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(logging.Application(applicationID))
	if f.onError == nil {
		f.onError = func(err *StreamError) {
			f.logger.Error("log stream failed", logging.Error(err))
		}
	}
	return f
}

// Start registers the forwarder with the client. Records may arrive before
// Start returns when the client delivers synchronously.
func (f *Forwarder) Start(ctx context.Context) error {
	f.logger.Debug("subscribing to log stream")
	if err := f.client.StreamLogs(ctx, f.applicationID, f); err != nil {
		return &StreamError{ApplicationID: f.applicationID, Err: err}
	}
	return nil
}

// OnRecord sends r to the sink. A sink failure is returned as *SinkError and not retried.
func (f *Forwarder) OnRecord(ctx context.Context, r core.LogRecord) error {
	msg := core.NewMessage(r)
	if err := f.sink.Send(ctx, msg); err != nil {
		f.failed.Add(1)
		SinkErrorsTotal.WithLabelValues(f.applicationID).Inc()
		return &SinkError{ApplicationID: f.applicationID, Err: err}
	}
	f.forwarded.Add(1)
	ForwardedTotal.WithLabelValues(f.applicationID, r.MessageType.String()).Inc()
	f.logger.Debug("forwarded record", "type", r.MessageType.String(), "source", r.SourceName, "bytes", len(r.Message))
	return nil
}

// OnComplete marks the stream finished. Repeated calls are no-ops.
func (f *Forwarder) OnComplete() {
	CompletionsTotal.WithLabelValues(f.applicationID).Inc()
	if f.completed.CompareAndSwap(false, true) {
		f.logger.Info("log stream completed", "forwarded", f.forwarded.Load())
		f.finish()
	}
}

// OnError reports a stream failure to the error handler.
func (f *Forwarder) OnError(err error) {
	if err == nil {
		err = ErrStreamFailed
	}
	se := &StreamError{ApplicationID: f.applicationID, Err: err}
	StreamErrorsTotal.WithLabelValues(f.applicationID).Inc()

	f.mu.Lock()
	f.err = se
	f.mu.Unlock()

	f.onError(se)
	f.finish()
}

// Done is closed once the stream completes or fails.
func (f *Forwarder) Done() <-chan struct{} { return f.done }

// Err returns the last stream failure, if any.
func (f *Forwarder) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		return nil
	}
	return f.err
}

// State reports whether the forwarder is still forwarding.
func (f *Forwarder) State() State {
	if f.Err() != nil {
		return StateFailed
	}
	if f.completed.Load() {
		return StateCompleted
	}
	return StateForwarding
}

// Stats returns a snapshot of the forwarder's counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		State:     f.State(),
		Forwarded: f.forwarded.Load(),
		Failed:    f.failed.Load(),
		Err:       f.Err(),
	}
}

func (f *Forwarder) finish() {
	f.doneOnce.Do(func() { close(f.done) })
}
