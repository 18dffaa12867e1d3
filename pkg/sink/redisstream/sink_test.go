package redisstream

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logsource/pkg/core"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleMessage(app string) core.Message {
	return core.NewMessage(core.LogRecord{
		ApplicationID: app,
		Message:       "hello",
		Timestamp:     time.UnixMilli(1),
		MessageType:   core.STDERR,
		SourceName:    "srcN",
		SourceID:      "srcID",
	})
}

func TestSink_Send(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	s := NewWithClient(client, Config{Stream: "logs:{app}"}, nil)

	require.NoError(t, s.Send(ctx, sampleMessage("foo")))

	entries, err := client.XRange(ctx, "logs:foo", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "hello", values[PayloadField])
	assert.Equal(t, "foo", values[core.HeaderApplicationID])
	assert.Equal(t, "STDERR", values[core.HeaderMessageType])
	assert.Equal(t, "1970-01-01T00:00:00.001Z", values[core.HeaderTimestamp])

	m, err := Message(values)
	require.NoError(t, err)
	r, err := core.RecordFromMessage(m)
	require.NoError(t, err)
	assert.Equal(t, "srcID", r.SourceID)
	assert.Equal(t, core.STDERR, r.MessageType)
	assert.True(t, r.Timestamp.Equal(time.UnixMilli(1)))
}

func TestSink_MaxLen(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	s := NewWithClient(client, Config{Stream: "logs", MaxLen: 5}, nil)

	for i := 0; i < 20; i++ {
		m := sampleMessage("foo")
		m.Payload = fmt.Sprintf("line %d", i)
		require.NoError(t, s.Send(ctx, m))
	}

	n, err := client.XLen(ctx, "logs").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(20))
	assert.Greater(t, n, int64(0))
}

func TestSink_ServerDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	s := NewWithClient(client, Config{Stream: "logs"}, nil)
	mr.Close()

	err := s.Send(context.Background(), sampleMessage("foo"))
	assert.ErrorContains(t, err, "xadd logs")
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := New(context.Background(), Config{URL: "redis://" + mr.Addr(), Stream: "logs"}, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = New(context.Background(), Config{URL: "redis://" + mr.Addr()}, nil)
	assert.ErrorContains(t, err, "stream is required")

	_, err = New(context.Background(), Config{URL: "::bogus", Stream: "logs"}, nil)
	assert.Error(t, err)
}

func TestFieldsUnsupported(t *testing.T) {
	m := sampleMessage("foo")
	m.Headers[core.HeaderTimestamp] = 12
	_, err := Fields(m)
	assert.Error(t, err)
}
