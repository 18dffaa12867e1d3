package forwarder

import (
	"errors"
	"fmt"
)

// ErrStreamFailed is used when a client reports a failure without a cause.
var ErrStreamFailed = errors.New("log stream failed")

// StreamError is a failure signalled by the log stream client, or a failure to subscribe.
type StreamError struct {
	ApplicationID string
	Err           error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("log stream %s: %v", e.ApplicationID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// SinkError is a failure of the outbound sink to accept a message.
type SinkError struct {
	ApplicationID string
	Err           error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("send %s message: %v", e.ApplicationID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
