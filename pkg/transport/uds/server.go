package uds

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/modoterra/logsource/pkg/logging"
)

const maxLine = 1024 * 1024

// HandlerFunc processes a request and returns a response data payload or error.
type HandlerFunc func(ctx context.Context, req Message) (any, error)

// conn is one connected client. Writes are serialized so that responses and
// broadcast events never interleave on the wire.
type conn struct {
	net.Conn
	writeMu sync.Mutex

	subMu      sync.RWMutex
	subscribed bool
	apps       map[string]struct{}
}

func (c *conn) write(line []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.Write(line)
	return err
}

func (c *conn) wants(applicationID string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if !c.subscribed {
		return false
	}
	if len(c.apps) == 0 {
		return true
	}
	_, ok := c.apps[applicationID]
	return ok
}

func (c *conn) subscribe(apps []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribed = true
	c.apps = make(map[string]struct{}, len(apps))
	for _, a := range apps {
		c.apps[a] = struct{}{}
	}
}

func (c *conn) unsubscribe() {
	c.subMu.Lock()
	c.subscribed = false
	c.apps = nil
	c.subMu.Unlock()
}

// Server listens on a Unix domain socket and dispatches NDJSON messages.
type Server struct {
	socketPath string
	listener   net.Listener
	handlers   map[string]HandlerFunc
	clients    map[*conn]struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewServer creates a new UDS server.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		clients:    make(map[*conn]struct{}),
		logger:     logger,
	}
}

// Handle registers a handler for a method. LogsSubscribe and LogsUnsubscribe
// are handled by the server itself.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// Start begins listening. It removes any stale socket file first.
func (s *Server) Start(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("server listening", "socket", s.socketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("accept error", logging.Error(err))
			continue
		}
		c := &conn{Conn: nc}
		s.mu.Lock()
		s.clients[c] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(ctx, c)
	}
}

// Broadcast sends an event to all connected clients.
func (s *Server) Broadcast(msg Message) {
	s.broadcast(msg, func(*conn) bool { return true })
}

// BroadcastLogs sends a logs.message event to clients subscribed to applicationID.
func (s *Server) BroadcastLogs(applicationID string, msg Message) {
	s.broadcast(msg, func(c *conn) bool { return c.wants(applicationID) })
}

// Subscribers reports how many clients currently receive log messages.
func (s *Server) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for c := range s.clients {
		c.subMu.RLock()
		if c.subscribed {
			n++
		}
		c.subMu.RUnlock()
	}
	return n
}

func (s *Server) broadcast(msg Message, match func(*conn) bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("broadcast marshal error", logging.Error(err))
		return
	}
	line := append(data, '\n')

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		if !match(c) {
			continue
		}
		if err := c.write(line); err != nil {
			s.logger.Warn("broadcast write error", logging.Error(err))
		}
	}
}

// Shutdown cleanly stops the server.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	for c := range s.clients {
		c.Close()
	}
	s.mu.Unlock()
	os.Remove(s.socketPath)
}

func (s *Server) handleConn(ctx context.Context, c *conn) {
	defer func() {
		c.Close()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(c)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			s.logger.Warn("invalid message", logging.Error(err))
			continue
		}
		if msg.Type != MsgTypeReq {
			continue
		}
		s.writeMessage(c, s.dispatch(ctx, c, msg))
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, msg Message) Message {
	switch msg.Method {
	case MethodLogsSubscribe:
		var req LogsSubscribeRequest
		if len(msg.Data) > 0 {
			if err := msg.UnmarshalData(&req); err != nil {
				return NewErrorResponse(msg.ID, msg.Method, err.Error())
			}
		}
		c.subscribe(req.Applications)
		resp, _ := NewResponse(msg.ID, msg.Method, nil)
		return resp
	case MethodLogsUnsubscribe:
		c.unsubscribe()
		resp, _ := NewResponse(msg.ID, msg.Method, nil)
		return resp
	}

	s.mu.RLock()
	handler, ok := s.handlers[msg.Method]
	s.mu.RUnlock()
	if !ok {
		return NewErrorResponse(msg.ID, msg.Method, fmt.Sprintf("unknown method: %s", msg.Method))
	}

	result, err := handler(ctx, msg)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, err.Error())
	}
	resp, err := NewResponse(msg.ID, msg.Method, result)
	if err != nil {
		return NewErrorResponse(msg.ID, msg.Method, err.Error())
	}
	return resp
}

func (s *Server) writeMessage(c *conn, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("marshal response error", logging.Error(err))
		return
	}
	if err := c.write(append(data, '\n')); err != nil {
		s.logger.Warn("write response error", logging.Error(err))
	}
}
