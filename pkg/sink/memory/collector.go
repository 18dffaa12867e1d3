// Package memory implements an in-process sink that queues messages for polling.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/modoterra/logsource/pkg/core"
)

var (
	ErrClosed = errors.New("collector closed")
	ErrFull   = errors.New("collector full")
)

// Collector is a bounded in-memory queue of messages.
type Collector struct {
	ch     chan core.Message
	mu     sync.RWMutex
	closed bool
}

// New creates a collector holding at most capacity unpolled messages.
func New(capacity int) *Collector {
	if capacity <= 0 {
		capacity = 1
	}
	return &Collector{ch: make(chan core.Message, capacity)}
}

// Send queues m. It never blocks: a full collector rejects the message.
func (c *Collector) Send(ctx context.Context, m core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- m:
		return nil
	default:
		return ErrFull
	}
}

// Poll waits up to timeout for the next message.
func (c *Collector) Poll(timeout time.Duration) (core.Message, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m, ok := <-c.ch:
		return m, ok
	case <-timer.C:
		return core.Message{}, false
	}
}

// Messages exposes the queue for range loops. It is closed by Close.
func (c *Collector) Messages() <-chan core.Message { return c.ch }

// Len returns the number of queued messages.
func (c *Collector) Len() int { return len(c.ch) }

// Close rejects further sends. Queued messages can still be polled.
func (c *Collector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
