// Package websocket streams an application's logs from a remote platform
// over a WebSocket connection.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/providers/logs"
)

// Envelope types sent by the platform.
const (
	TypeLog      = "log"
	TypeComplete = "complete"
	TypeError    = "error"
)

// DefaultHandshakeTimeout bounds the WebSocket upgrade.
const DefaultHandshakeTimeout = 10 * time.Second

// Envelope wraps every frame from the platform.
type Envelope struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Config locates the platform and its credentials.
type Config struct {
	// URL is the platform base URL. http(s) schemes are mapped to ws(s).
	URL string

	// Token is sent as a bearer token. When empty, TokenFile is read.
	Token     string
	TokenFile string

	HandshakeTimeout time.Duration
}

// Client subscribes to <URL>/apps/<application>/stream.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a websocket log stream client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Client{cfg: cfg, logger: logger}
}

// StreamURL builds the stream endpoint for applicationID.
func (c *Client) StreamURL(applicationID string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid platform URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme: %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/apps/" + url.PathEscape(applicationID) + "/stream"
	return u.String(), nil
}

func (c *Client) token() (string, error) {
	if c.cfg.Token != "" {
		return c.cfg.Token, nil
	}
	if c.cfg.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.cfg.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// StreamLogs dials the platform and reads envelopes in the background.
// A dial failure is returned; failures after that go to OnError.
func (c *Client) StreamLogs(ctx context.Context, applicationID string, l core.Listener) error {
	wsURL, err := c.StreamURL(applicationID)
	if err != nil {
		return err
	}
	token, err := c.token()
	if err != nil {
		return err
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}

	logger := c.logger.With(logging.Application(applicationID))
	logger.Info("connected to log stream", "url", wsURL)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(stop)
		defer conn.Close()
		c.read(ctx, conn, applicationID, l, logger)
	}()
	return nil
}

func (c *Client) read(ctx context.Context, conn *websocket.Conn, app string, l core.Listener, logger *slog.Logger) {
	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				l.OnComplete()
				return
			}
			l.OnError(fmt.Errorf("read log stream: %w", err))
			return
		}

		switch env.Type {
		case TypeLog:
			r, err := DecodeRecord(env.Data, app)
			if err != nil {
				logger.Warn("skipping log envelope", logging.Error(err))
				continue
			}
			logs.Deliver(ctx, l, r, logger)
		case TypeComplete:
			l.OnComplete()
			return
		case TypeError:
			msg := env.Error
			if msg == "" {
				msg = string(env.Data)
			}
			if msg == "" {
				l.OnError(nil)
			} else {
				l.OnError(errors.New(msg))
			}
			return
		default:
			logger.Debug("ignoring envelope", "type", env.Type)
		}
	}
}

// DecodeRecord parses the data of a log envelope. A missing application ID
// defaults to the subscribed application.
func DecodeRecord(data json.RawMessage, applicationID string) (core.LogRecord, error) {
	var r core.LogRecord
	if len(data) == 0 {
		return r, fmt.Errorf("empty log data")
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode log data: %w", err)
	}
	if r.ApplicationID == "" {
		r.ApplicationID = applicationID
	}
	if r.MessageType == 0 {
		r.MessageType = core.STDOUT
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return r, nil
}
