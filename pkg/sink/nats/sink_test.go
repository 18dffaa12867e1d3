package nats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logsource/pkg/core"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		template string
		app      string
		want     string
	}{
		{"logs.{app}", "foo", "logs.foo"},
		{"logs.{app}.out", "my.app", "logs.my_app.out"},
		{"logs.{app}", "a b*c>", "logs.a_b_c_"},
		{"logs.{app}", "", "logs._"},
		{"logs.all", "foo", "logs.all"},
	}
	for _, tt := range tests {
		if got := Subject(tt.template, tt.app); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.template, tt.app, got, tt.want)
		}
	}
}

func TestEncodeDecodeMsg(t *testing.T) {
	r := core.LogRecord{
		ApplicationID: "foo",
		Message:       "hello",
		Timestamp:     time.UnixMilli(1),
		MessageType:   core.STDOUT,
		SourceName:    "srcN",
		SourceID:      "srcID",
	}

	msg, err := EncodeMsg("logs.{app}", core.NewMessage(r))
	require.NoError(t, err)
	assert.Equal(t, "logs.foo", msg.Subject)
	assert.Equal(t, "hello", string(msg.Data))
	assert.Equal(t, "1970-01-01T00:00:00.001Z", msg.Header.Get(core.HeaderTimestamp))
	assert.Equal(t, "STDOUT", msg.Header.Get(core.HeaderMessageType))
	assert.Equal(t, "srcN", msg.Header.Get(core.HeaderSourceName))

	decoded, err := DecodeMsg(msg)
	require.NoError(t, err)
	back, err := core.RecordFromMessage(decoded)
	require.NoError(t, err)
	assert.True(t, back.Timestamp.Equal(r.Timestamp))
	back.Timestamp = r.Timestamp
	assert.Equal(t, r, back)
}

func TestEncodeUnsupportedHeader(t *testing.T) {
	m := core.NewMessage(core.LogRecord{ApplicationID: "foo", MessageType: core.STDERR})
	m.Headers[core.HeaderSourceID] = 42
	_, err := EncodeMsg("logs", m)
	assert.Error(t, err)
}

func TestDecodeBadTimestamp(t *testing.T) {
	msg, err := EncodeMsg("logs", core.NewMessage(core.LogRecord{ApplicationID: "foo", MessageType: core.STDOUT}))
	require.NoError(t, err)
	msg.Header.Set(core.HeaderTimestamp, "yesterday")
	_, err = DecodeMsg(msg)
	assert.Error(t, err)
}

func TestNewRequiresSubject(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Subject = ""
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "subject is required")
}

func TestNewUnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.Timeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "connect to nats")
}
