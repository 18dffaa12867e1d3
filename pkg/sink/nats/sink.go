// Package nats publishes forwarded log messages to NATS subjects, optionally through JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
)

// AppPlaceholder in a subject is replaced with the message's application ID.
const AppPlaceholder = "{app}"

// Config holds NATS sink configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// Subject to publish to. May contain {app}.
	Subject string

	// JetStream publishes with acknowledgement instead of fire-and-forget.
	JetStream bool

	// Stream, when set with JetStream, is created or updated to capture Subject.
	Stream string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	ReconnectWait time.Duration
	Timeout       time.Duration

	Username string
	Password string
	Token    string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "logsourced",
		Subject:       "logs." + AppPlaceholder,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Sink publishes messages to NATS.
type Sink struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
	logger  *slog.Logger
}

// New connects to NATS and returns a sink publishing to cfg.Subject.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("nats sink: subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(logging.Sink("nats"))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", logging.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	s := &Sink{conn: conn, subject: cfg.Subject, logger: logger}
	if cfg.JetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("jetstream: %w", err)
		}
		if cfg.Stream != "" {
			_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
				Name:     cfg.Stream,
				Subjects: []string{streamSubject(cfg.Subject)},
				Storage:  jetstream.FileStorage,
			})
			if err != nil {
				conn.Close()
				return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
			}
		}
		s.js = js
	}
	logger.Info("nats sink ready", "url", cfg.URL, logging.Subject(cfg.Subject), "jetstream", cfg.JetStream)
	return s, nil
}

// Send publishes m. With JetStream it waits for the server acknowledgement.
func (s *Sink) Send(ctx context.Context, m core.Message) error {
	msg, err := EncodeMsg(s.subject, m)
	if err != nil {
		return err
	}
	if s.js != nil {
		if _, err := s.js.PublishMsg(ctx, msg); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", msg.Subject, err)
		}
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection, flushing buffered publishes.
func (s *Sink) Close() error {
	return s.conn.Drain()
}

// Subject expands the {app} placeholder. Characters that are not valid in a
// NATS subject token are replaced with '_'.
func Subject(template, applicationID string) string {
	if !strings.Contains(template, AppPlaceholder) {
		return template
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, applicationID)
	if token == "" {
		token = "_"
	}
	return strings.ReplaceAll(template, AppPlaceholder, token)
}

func streamSubject(template string) string {
	return strings.ReplaceAll(template, AppPlaceholder, "*")
}

// EncodeMsg builds the NATS message for m. Header values are rendered as text:
// timestamps in RFC 3339 with nanoseconds, message types by name.
func EncodeMsg(subjectTemplate string, m core.Message) (*nats.Msg, error) {
	app, _ := m.Headers[core.HeaderApplicationID].(string)
	msg := nats.NewMsg(Subject(subjectTemplate, app))
	msg.Data = []byte(m.Payload)
	for _, key := range core.HeaderKeys() {
		v, ok := m.Headers[key]
		if !ok {
			continue
		}
		text, err := headerText(v)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
		msg.Header.Set(key, text)
	}
	return msg, nil
}

// DecodeMsg reverses EncodeMsg, restoring typed header values.
func DecodeMsg(msg *nats.Msg) (core.Message, error) {
	m := core.Message{Payload: string(msg.Data), Headers: make(map[string]any, 5)}
	for _, key := range core.HeaderKeys() {
		v := msg.Header.Get(key)
		if v == "" && len(msg.Header.Values(key)) == 0 {
			continue
		}
		switch key {
		case core.HeaderTimestamp:
			ts, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return core.Message{}, fmt.Errorf("header %s: %w", key, err)
			}
			m.Headers[key] = ts
		case core.HeaderMessageType:
			mt, err := core.ParseMessageType(v)
			if err != nil {
				return core.Message{}, fmt.Errorf("header %s: %w", key, err)
			}
			m.Headers[key] = mt
		default:
			m.Headers[key] = v
		}
	}
	return m, nil
}

func headerText(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano), nil
	case core.MessageType:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported header value %T", v)
	}
}
