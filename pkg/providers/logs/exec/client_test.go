package exec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/forwarder"
	"github.com/modoterra/logsource/pkg/providers/logs"
	"github.com/modoterra/logsource/pkg/sink"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type listener struct {
	mu      sync.Mutex
	records []core.LogRecord
	err     error
	done    chan struct{}
	once    sync.Once
}

func newListener() *listener { return &listener{done: make(chan struct{})} }

func (l *listener) OnRecord(_ context.Context, r core.LogRecord) error {
	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()
	return nil
}

func (l *listener) OnComplete() { l.once.Do(func() { close(l.done) }) }

func (l *listener) OnError(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
	l.once.Do(func() { close(l.done) })
}

func (l *listener) wait(t *testing.T) {
	t.Helper()
	select {
	case <-l.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for stream end")
	}
}

func (l *listener) byType(mt core.MessageType) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, r := range l.records {
		if r.MessageType == mt {
			out = append(out, r.Message)
		}
	}
	return out
}

func TestStreamLogs_StdoutAndStderr(t *testing.T) {
	c := New(Config{Command: "sh " + writeScript(t, "echo out\necho err 1>&2\n")}, quietLogger)

	l := newListener()
	require.NoError(t, c.StreamLogs(context.Background(), "app", l))
	l.wait(t)

	assert.NoError(t, l.err)
	assert.Equal(t, []string{"out"}, l.byType(core.STDOUT))
	assert.Equal(t, []string{"err"}, l.byType(core.STDERR))
	for _, r := range l.records {
		assert.Equal(t, "app", r.ApplicationID)
		assert.Equal(t, SourceName, r.SourceName)
		assert.NotEmpty(t, r.SourceID)
		assert.False(t, r.Timestamp.IsZero())
	}
}

func TestStreamLogs_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	c := New(Config{
		Command: "sh " + writeScript(t, "echo $GREETING\npwd\n"),
		Dir:     dir,
		Env:     map[string]string{"GREETING": "hi"},
	}, quietLogger)

	l := newListener()
	require.NoError(t, c.StreamLogs(context.Background(), "app", l))
	l.wait(t)
	out := l.byType(core.STDOUT)
	require.Len(t, out, 2)
	assert.Equal(t, "hi", out[0])
	assert.Contains(t, out[1], filepath.Base(dir))
}

func TestStreamLogs_NonZeroExit(t *testing.T) {
	c := New(Config{Command: "false"}, quietLogger)
	l := newListener()
	require.NoError(t, c.StreamLogs(context.Background(), "app", l))
	l.wait(t)
	assert.Error(t, l.err)
}

func TestStreamLogs_StartFailure(t *testing.T) {
	c := New(Config{Command: "/nonexistent/binary"}, quietLogger)
	assert.Error(t, c.StreamLogs(context.Background(), "app", newListener()))

	c = New(Config{Command: "   "}, quietLogger)
	assert.Error(t, c.StreamLogs(context.Background(), "app", newListener()))
}

func TestStreamLogs_CancelCompletes(t *testing.T) {
	c := New(Config{Command: "sleep 30", StopGrace: time.Second}, quietLogger)
	ctx, cancel := context.WithCancel(context.Background())
	l := newListener()
	require.NoError(t, c.StreamLogs(ctx, "app", l))

	cancel()
	l.wait(t)
	assert.NoError(t, l.err, "cancellation is a normal end of stream")
}

func TestStreamLogs_OverlongLineKeepsReading(t *testing.T) {
	script := "head -c 2097152 /dev/zero | tr '\\0' a\n" +
		"echo\n" +
		"head -c 262144 /dev/zero | tr '\\0' b 1>&2\n" +
		"echo 1>&2\n" +
		"echo after\n"
	c := New(Config{Command: "sh " + writeScript(t, script)}, quietLogger)

	l := newListener()
	require.NoError(t, c.StreamLogs(context.Background(), "app", l))
	l.wait(t)

	require.NoError(t, l.err)
	out := l.byType(core.STDOUT)
	require.Len(t, out, 2)
	assert.Len(t, out[0], logs.MaxLineSize)
	assert.Equal(t, strings.Repeat("a", logs.MaxLineSize), out[0])
	assert.Equal(t, "after", out[1])

	errOut := l.byType(core.STDERR)
	require.Len(t, errOut, 1)
	assert.Len(t, errOut[0], 262144)
}

func TestStreamLogs_SinkFailureKeepsStreaming(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	failing := sink.Func(func(_ context.Context, m core.Message) error {
		if m.Payload == "one" {
			return errors.New("sink unavailable")
		}
		mu.Lock()
		sent = append(sent, m.Payload)
		mu.Unlock()
		return nil
	})
	c := New(Config{Command: "sh " + writeScript(t, "echo one\necho two\necho three\n")}, quietLogger)
	fwd := forwarder.New("app", c, failing, forwarder.WithLogger(quietLogger))
	require.NoError(t, fwd.Start(context.Background()))

	select {
	case <-fwd.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for stream end")
	}
	st := fwd.Stats()
	assert.Equal(t, forwarder.StateCompleted, st.State)
	assert.Equal(t, uint64(1), st.Failed)
	assert.Equal(t, uint64(2), st.Forwarded)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"two", "three"}, sent)
}
