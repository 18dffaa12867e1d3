// Package uds broadcasts forwarded messages to clients of the daemon socket.
package uds

import (
	"context"
	"fmt"

	"github.com/modoterra/logsource/pkg/core"
	transport "github.com/modoterra/logsource/pkg/transport/uds"
)

// Broadcaster is the part of transport.Server the sink needs.
type Broadcaster interface {
	BroadcastLogs(applicationID string, msg transport.Message)
}

// Sink pushes each message as a logs.message event. Clients that are not
// subscribed to the message's application never see it.
type Sink struct {
	server Broadcaster
}

// New returns a sink that broadcasts through server.
func New(server Broadcaster) *Sink {
	return &Sink{server: server}
}

// Send converts m to its wire form and broadcasts it.
func (s *Sink) Send(ctx context.Context, m core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lm, err := transport.NewLogMessage(m)
	if err != nil {
		return fmt.Errorf("uds sink: %w", err)
	}
	evt, err := transport.NewEvent(transport.EventLogsMessage, lm)
	if err != nil {
		return fmt.Errorf("uds sink: %w", err)
	}
	s.server.BroadcastLogs(lm.Headers.ApplicationID, evt)
	return nil
}
