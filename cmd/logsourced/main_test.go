package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logsource/pkg/config"
	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/manifest"
	"github.com/modoterra/logsource/pkg/providers/logs/docker"
	execlogs "github.com/modoterra/logsource/pkg/providers/logs/exec"
	"github.com/modoterra/logsource/pkg/providers/logs/filetail"
	"github.com/modoterra/logsource/pkg/providers/logs/journald"
	"github.com/modoterra/logsource/pkg/providers/logs/websocket"
	"github.com/modoterra/logsource/pkg/sink"
	"github.com/modoterra/logsource/pkg/sink/memory"
	udssink "github.com/modoterra/logsource/pkg/sink/uds"
	"github.com/modoterra/logsource/pkg/transport/uds"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestClientFactory(t *testing.T) {
	factory := newClientFactory(quietLogger)

	tests := []struct {
		src  manifest.Source
		want any
	}{
		{manifest.Source{Kind: "exec", Command: "php artisan serve"}, &execlogs.Client{}},
		{manifest.Source{Kind: "journald", Unit: "nginx.service"}, &journald.Client{}},
		{manifest.Source{Kind: "file", File: "/var/log/app.log"}, &filetail.Client{}},
		{manifest.Source{Kind: "docker", Container: "shop-db-1"}, &docker.Client{}},
		{manifest.Source{Kind: "websocket", URL: "https://logs.example.com"}, &websocket.Client{}},
	}
	for _, tt := range tests {
		t.Run(tt.src.Kind, func(t *testing.T) {
			c, err := factory("x", tt.src)
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}

	_, err := factory("x", manifest.Source{Kind: "syslog"})
	assert.ErrorContains(t, err, "unknown kind")
}

func testConfig() *config.Config {
	return &config.Config{
		NATS:  config.NATSConfig{URL: "nats://127.0.0.1:1"},
		Redis: config.RedisConfig{URL: "redis://127.0.0.1:1/0"},
	}
}

func TestBuildSinkDefaultsToUDS(t *testing.T) {
	server := uds.NewServer(t.TempDir()+"/s.sock", quietLogger)
	b, err := buildSink(context.Background(), manifest.Sink{}, testConfig(), server, quietLogger)
	require.NoError(t, err)
	assert.IsType(t, &udssink.Sink{}, b.Sink)
	assert.NoError(t, b.Close())
}

func TestBuildSinkMemory(t *testing.T) {
	b, err := buildSink(context.Background(), manifest.Sink{Kind: "memory", Capacity: 2}, testConfig(), nil, quietLogger)
	require.NoError(t, err)
	c, ok := b.Sink.(*memory.Collector)
	require.True(t, ok)

	msg := core.NewMessage(core.LogRecord{ApplicationID: "shop", Message: "hi", MessageType: core.STDOUT})
	require.NoError(t, c.Send(context.Background(), msg))
	require.NoError(t, b.Close())
	assert.Error(t, c.Send(context.Background(), msg), "closed collector rejects messages")
}

func TestBuildSinkMemoryIsDrained(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b, err := buildSink(context.Background(), manifest.Sink{Kind: "memory", Capacity: 2}, testConfig(), nil, logger)
	require.NoError(t, err)

	const n = 20
	for i := 0; i < n; i++ {
		msg := core.NewMessage(core.LogRecord{ApplicationID: "shop", Message: "line", Timestamp: time.Now(), MessageType: core.STDOUT, SourceName: "exec"})
		require.Eventually(t, func() bool { return b.Send(context.Background(), msg) == nil },
			2*time.Second, time.Millisecond, "message %d rejected by a full sink", i)
	}
	require.NoError(t, b.Close())

	assert.Equal(t, n, strings.Count(buf.String(), "msg=\"log record\""))
	assert.Contains(t, buf.String(), "application=shop")
}

func TestBuildSinkMultiWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.Redis.URL = "redis://" + mr.Addr() + "/0"

	def := manifest.Sink{Kind: "multi", Sinks: []manifest.Sink{
		{Kind: "memory"},
		{Kind: "redis", Stream: "logs:{app}"},
	}}
	b, err := buildSink(context.Background(), def, cfg, nil, quietLogger)
	require.NoError(t, err)
	defer b.Close()

	multi, ok := b.Sink.(sink.Multi)
	require.True(t, ok)
	require.Len(t, multi, 2)
	assert.Equal(t, "memory", multi[0].Name)
	assert.Equal(t, "redis", multi[1].Name)

	msg := core.NewMessage(core.LogRecord{ApplicationID: "shop", Message: "hi", Timestamp: time.Now(), MessageType: core.STDOUT})
	require.NoError(t, b.Send(context.Background(), msg))

	entries, err := mr.Stream("logs:shop")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestBuildSinkErrors(t *testing.T) {
	ctx := context.Background()

	_, err := buildSink(ctx, manifest.Sink{Kind: "kafka"}, testConfig(), nil, quietLogger)
	assert.ErrorContains(t, err, "unknown sink kind")

	_, err = buildSink(ctx, manifest.Sink{Kind: "multi", Sinks: []manifest.Sink{{Kind: "multi"}}}, testConfig(), nil, quietLogger)
	assert.ErrorContains(t, err, "cannot be nested")

	_, err = buildSink(ctx, manifest.Sink{Kind: "redis"}, testConfig(), nil, quietLogger)
	assert.ErrorContains(t, err, "ping redis")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "logsourced "))
}
