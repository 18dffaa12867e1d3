package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/forwarder"
	"github.com/modoterra/logsource/pkg/providers/logs"
	"github.com/modoterra/logsource/pkg/sink"
)

type fakeAPI struct {
	tty     bool
	logs    []byte
	logsErr error
	opts    container.LogsOptions
}

func (f *fakeAPI) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			ID:    id,
			State: &container.State{Status: container.StateRunning},
		},
		Config: &container.Config{Tty: f.tty},
	}, nil
}

func (f *fakeAPI) ContainerLogs(_ context.Context, _ string, opts container.LogsOptions) (io.ReadCloser, error) {
	f.opts = opts
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

type listener struct {
	mu      sync.Mutex
	records []core.LogRecord
	err     error
	done    chan struct{}
}

func (l *listener) OnRecord(_ context.Context, r core.LogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}
func (l *listener) OnComplete()       { close(l.done) }
func (l *listener) OnError(err error) { l.err = err; close(l.done) }

func (l *listener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stream end")
	}
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func multiplexed(t *testing.T, stdout, stderr string) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(stdout))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(stderr))
	require.NoError(t, err)
	return buf.Bytes()
}

func TestStreamLogs_Multiplexed(t *testing.T) {
	api := &fakeAPI{logs: multiplexed(t,
		"2024-05-01T12:00:00.000000001Z ready\n",
		"2024-05-01T12:00:01Z boom\n",
	)}
	c := NewWithAPI(api, Config{Container: "mailpit"}, quietLogger)
	l := &listener{done: make(chan struct{})}

	require.NoError(t, c.StreamLogs(context.Background(), "mail", l))
	l.wait(t)
	require.NoError(t, l.err)

	assert.True(t, api.opts.Follow)
	assert.True(t, api.opts.Timestamps)
	assert.Equal(t, "0", api.opts.Tail)

	require.Len(t, l.records, 2)
	byType := map[core.MessageType]core.LogRecord{}
	for _, r := range l.records {
		byType[r.MessageType] = r
	}
	out := byType[core.STDOUT]
	assert.Equal(t, "ready", out.Message)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 1, time.UTC), out.Timestamp)
	assert.Equal(t, "mail", out.ApplicationID)
	assert.Equal(t, SourceName, out.SourceName)
	assert.Equal(t, "mailpit", out.SourceID)
	assert.Equal(t, "boom", byType[core.STDERR].Message)
}

func TestStreamLogs_TTY(t *testing.T) {
	api := &fakeAPI{tty: true, logs: []byte("2024-05-01T12:00:00Z a\n2024-05-01T12:00:00Z b\n")}
	c := NewWithAPI(api, Config{Container: "web", Tail: "all"}, quietLogger)
	l := &listener{done: make(chan struct{})}

	require.NoError(t, c.StreamLogs(context.Background(), "web", l))
	l.wait(t)
	require.Len(t, l.records, 2)
	assert.Equal(t, "a", l.records[0].Message)
	assert.Equal(t, core.STDOUT, l.records[1].MessageType)
	assert.Equal(t, "all", api.opts.Tail)
}

func TestStreamLogs_LogsError(t *testing.T) {
	api := &fakeAPI{logsErr: errors.New("no such container")}
	c := NewWithAPI(api, Config{Container: "gone"}, quietLogger)
	err := c.StreamLogs(context.Background(), "app", &listener{done: make(chan struct{})})
	assert.ErrorContains(t, err, "no such container")
}

func TestSplitTimestamp(t *testing.T) {
	ts, msg := SplitTimestamp("2024-05-01T12:00:00Z hello world")
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), ts)
	assert.Equal(t, "hello world", msg)

	ts, msg = SplitTimestamp("2024-05-01T12:00:00Z")
	assert.False(t, ts.IsZero())
	assert.Equal(t, "", msg)

	ts, msg = SplitTimestamp("no timestamp here")
	assert.False(t, ts.IsZero())
	assert.Equal(t, "no timestamp here", msg)
}

func TestStreamLogs_OverlongLine(t *testing.T) {
	long := "2024-05-01T12:00:00Z " + strings.Repeat("a", 2*logs.MaxLineSize) + "\n"
	api := &fakeAPI{logs: multiplexed(t,
		long+"2024-05-01T12:00:01Z after\n",
		"2024-05-01T12:00:02Z boom\n",
	)}
	c := NewWithAPI(api, Config{Container: "worker"}, quietLogger)
	l := &listener{done: make(chan struct{})}

	require.NoError(t, c.StreamLogs(context.Background(), "worker", l))
	l.wait(t)
	require.NoError(t, l.err)

	l.mu.Lock()
	defer l.mu.Unlock()
	var out, errOut []string
	for _, r := range l.records {
		if r.MessageType == core.STDERR {
			errOut = append(errOut, r.Message)
		} else {
			out = append(out, r.Message)
		}
	}
	require.Len(t, out, 2)
	assert.Equal(t, strings.Repeat("a", logs.MaxLineSize-len("2024-05-01T12:00:00Z ")), out[0])
	assert.Equal(t, "after", out[1])
	assert.Equal(t, []string{"boom"}, errOut)
}

func TestStreamLogs_SinkFailureKeepsStreaming(t *testing.T) {
	api := &fakeAPI{tty: true, logs: []byte("2024-05-01T12:00:00Z one\n2024-05-01T12:00:00Z two\n2024-05-01T12:00:00Z three\n")}
	var sent []string
	failing := sink.Func(func(_ context.Context, m core.Message) error {
		if m.Payload == "one" {
			return errors.New("sink unavailable")
		}
		sent = append(sent, m.Payload)
		return nil
	})
	fwd := forwarder.New("web", NewWithAPI(api, Config{Container: "web"}, quietLogger), failing, forwarder.WithLogger(quietLogger))
	require.NoError(t, fwd.Start(context.Background()))

	select {
	case <-fwd.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stream end")
	}
	st := fwd.Stats()
	assert.Equal(t, forwarder.StateCompleted, st.State)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(2), st.Forwarded)
	assert.Equal(t, []string{"two", "three"}, sent)
}
