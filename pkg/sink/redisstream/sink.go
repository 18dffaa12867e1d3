// Package redisstream appends forwarded log messages to Redis streams.
package redisstream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
)

// PayloadField is the stream entry field holding the message payload.
const PayloadField = "payload"

// Config holds Redis stream sink configuration.
type Config struct {
	// URL is a redis:// URL.
	URL string
	// Stream is the stream key. "{app}" is replaced with the application ID.
	Stream string
	// MaxLen trims the stream approximately to this length; 0 disables trimming.
	MaxLen int64
}

// Sink writes one stream entry per message with XADD.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// New parses cfg.URL, verifies the server answers PING and returns the sink.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis sink: stream is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: logger.With(logging.Sink("redis"), logging.Subject(cfg.Stream)),
	}
}

// Send appends m to its stream.
func (s *Sink) Send(ctx context.Context, m core.Message) error {
	values, err := Fields(m)
	if err != nil {
		return err
	}
	app, _ := m.Headers[core.HeaderApplicationID].(string)
	args := &redis.XAddArgs{
		Stream: StreamKey(s.stream, app),
		Values: values,
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}

// StreamKey expands "{app}" in the stream key template.
func StreamKey(template, applicationID string) string {
	return strings.ReplaceAll(template, "{app}", applicationID)
}

// Fields flattens m into stream entry fields.
func Fields(m core.Message) (map[string]any, error) {
	values := map[string]any{PayloadField: m.Payload}
	for _, key := range core.HeaderKeys() {
		v, ok := m.Headers[key]
		if !ok {
			continue
		}
		switch v := v.(type) {
		case string:
			values[key] = v
		case time.Time:
			values[key] = v.UTC().Format(time.RFC3339Nano)
		case core.MessageType:
			values[key] = v.String()
		default:
			return nil, fmt.Errorf("header %s: unsupported value %T", key, v)
		}
	}
	return values, nil
}

// Message rebuilds a typed message from stream entry fields.
func Message(values map[string]any) (core.Message, error) {
	m := core.Message{Headers: make(map[string]any, 5)}
	if p, ok := values[PayloadField].(string); ok {
		m.Payload = p
	}
	for _, key := range core.HeaderKeys() {
		raw, ok := values[key].(string)
		if !ok {
			continue
		}
		switch key {
		case core.HeaderTimestamp:
			ts, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return core.Message{}, fmt.Errorf("field %s: %w", key, err)
			}
			m.Headers[key] = ts
		case core.HeaderMessageType:
			mt, err := core.ParseMessageType(raw)
			if err != nil {
				return core.Message{}, fmt.Errorf("field %s: %w", key, err)
			}
			m.Headers[key] = mt
		default:
			m.Headers[key] = raw
		}
	}
	return m, nil
}
