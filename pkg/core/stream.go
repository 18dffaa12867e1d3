package core

import "context"

// Listener receives the events of one log subscription.
type Listener interface {
	// OnRecord handles one log record. A returned error belongs to the caller
	// that delivered the record; listeners do not retry.
	OnRecord(ctx context.Context, r LogRecord) error

	// OnComplete signals the end of the stream. It may be called more than once.
	OnComplete()

	// OnError signals that the stream failed.
	OnError(err error)
}

// LogStreamClient subscribes listeners to an application's log stream.
type LogStreamClient interface {
	// StreamLogs registers l for applicationID. Implementations may deliver
	// events before returning, or later on goroutines of their own.
	// Cancelling ctx ends the subscription.
	StreamLogs(ctx context.Context, applicationID string, l Listener) error
}

// Sink accepts outbound messages. Send must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, m Message) error
}
