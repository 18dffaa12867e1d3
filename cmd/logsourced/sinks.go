package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modoterra/logsource/pkg/config"
	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/sink"
	"github.com/modoterra/logsource/pkg/sink/memory"
	natssink "github.com/modoterra/logsource/pkg/sink/nats"
	"github.com/modoterra/logsource/pkg/sink/redisstream"
	udssink "github.com/modoterra/logsource/pkg/sink/uds"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

const (
	defaultMemoryCapacity = 1024
	defaultRedisStream    = "logs:{app}"
)

// builtSink is a sink plus the cleanup its connections need.
type builtSink struct {
	core.Sink
	closers []func() error
}

func (s *builtSink) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func buildSink(ctx context.Context, def manifest.Sink, cfg *config.Config, server *uds.Server, logger *slog.Logger) (*builtSink, error) {
	switch def.KindOrDefault() {
	case manifest.SinkUDS:
		return &builtSink{Sink: udssink.New(server)}, nil

	case manifest.SinkMemory:
		capacity := def.Capacity
		if capacity == 0 {
			capacity = defaultMemoryCapacity
		}
		c := memory.New(capacity)
		done := make(chan struct{})
		go drainMemory(c, logger, done)
		return &builtSink{Sink: c, closers: []func() error{func() error { c.Close(); <-done; return nil }}}, nil

	case manifest.SinkNATS:
		nc := natssink.DefaultConfig()
		nc.URL = cfg.NATS.URL
		nc.Username = cfg.NATS.Username
		nc.Password = cfg.NATS.Password
		nc.Token = cfg.NATS.Token
		if def.Subject != "" {
			nc.Subject = def.Subject
		}
		nc.JetStream = def.JetStream
		nc.Stream = def.Stream
		s, err := natssink.New(ctx, nc, logger)
		if err != nil {
			return nil, err
		}
		return &builtSink{Sink: s, closers: []func() error{s.Close}}, nil

	case manifest.SinkRedis:
		stream := def.Stream
		if stream == "" {
			stream = defaultRedisStream
		}
		s, err := redisstream.New(ctx, redisstream.Config{URL: cfg.Redis.URL, Stream: stream, MaxLen: def.MaxLen}, logger)
		if err != nil {
			return nil, err
		}
		return &builtSink{Sink: s, closers: []func() error{s.Close}}, nil

	case manifest.SinkMulti:
		out := &builtSink{}
		var multi sink.Multi
		for i, child := range def.Sinks {
			if child.KindOrDefault() == manifest.SinkMulti {
				out.Close()
				return nil, fmt.Errorf("sink %d: multi sinks cannot be nested", i)
			}
			b, err := buildSink(ctx, child, cfg, server, logger)
			if err != nil {
				out.Close()
				return nil, fmt.Errorf("sink %d (%s): %w", i, child.KindOrDefault(), err)
			}
			multi = append(multi, sink.Named{Name: child.KindOrDefault(), Sink: b.Sink})
			out.closers = append(out.closers, b.closers...)
		}
		out.Sink = multi
		return out, nil

	default:
		return nil, fmt.Errorf("unknown sink kind %q", def.Kind)
	}
}

// drainMemory consumes a daemon-owned memory sink so it never fills up. Each
// message is logged at debug level.
func drainMemory(c *memory.Collector, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	logger = logger.With(logging.Sink(manifest.SinkMemory))
	for m := range c.Messages() {
		r, err := core.RecordFromMessage(m)
		if err != nil {
			logger.Warn("malformed message", logging.Error(err))
			continue
		}
		logger.Debug("log record",
			logging.Application(r.ApplicationID),
			"type", r.MessageType.String(),
			"source", r.SourceName,
			"message", r.Message,
		)
	}
}
