// Package exec streams the output of a child process.
package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/providers/logs"
)

// SourceName is the source name carried by every record.
const SourceName = "exec"

// DefaultStopGrace is how long a process group gets between SIGTERM and SIGKILL.
const DefaultStopGrace = 10 * time.Second

// Config describes the process to run.
type Config struct {
	Command   string
	Dir       string
	Env       map[string]string
	StopGrace time.Duration
}

// Client runs Config.Command once per StreamLogs call. Stdout lines become
// STDOUT records and stderr lines STDERR records.
type Client struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an exec log stream client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	return &Client{cfg: cfg, logger: logger, now: time.Now}
}

// StreamLogs starts the process and returns once it is running. The stream
// completes when the process exits 0 or ctx is cancelled; any other exit is
// reported through OnError.
func (c *Client) StreamLogs(ctx context.Context, applicationID string, l core.Listener) error {
	parts := strings.Fields(c.cfg.Command)
	if len(parts) == 0 {
		return fmt.Errorf("empty command")
	}

	cmd := osexec.Command(parts[0], parts[1:]...)
	cmd.Dir = c.cfg.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	for k, v := range c.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", c.cfg.Command, err)
	}

	pid := cmd.Process.Pid
	logger := c.logger.With(logging.Application(applicationID), "pid", pid)
	logger.Info("process started", "command", c.cfg.Command)

	exited := make(chan struct{})
	go c.stopOnCancel(ctx, pid, exited, logger)

	go func() {
		var (
			wg      sync.WaitGroup
			readErr [2]error
		)
		wg.Add(2)
		go c.pump(ctx, &wg, &readErr[0], stdout, applicationID, pid, core.STDOUT, l, logger)
		go c.pump(ctx, &wg, &readErr[1], stderr, applicationID, pid, core.STDERR, l, logger)
		wg.Wait()

		err := cmd.Wait()
		close(exited)
		logger.Info("process exited", "exit_code", cmd.ProcessState.ExitCode())

		var exitErr *osexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%q: %w", c.cfg.Command, exitErr)
		}
		if err == nil {
			err = errors.Join(readErr[0], readErr[1])
		}
		logs.Finish(ctx, l, err)
	}()
	return nil
}

func (c *Client) pump(ctx context.Context, wg *sync.WaitGroup, errp *error, r io.Reader, app string, pid int, mt core.MessageType, l core.Listener, logger *slog.Logger) {
	defer wg.Done()
	err := logs.ScanLines(r, func(line string) {
		logs.Deliver(ctx, l, core.LogRecord{
			ApplicationID: app,
			Message:       line,
			Timestamp:     c.now(),
			MessageType:   mt,
			SourceName:    SourceName,
			SourceID:      strconv.Itoa(pid),
		}, logger)
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		logger.Warn("read output", "stream", mt.String(), logging.Error(err))
		*errp = fmt.Errorf("read %s: %w", mt, err)
	}
}

// stopOnCancel signals the whole process group when ctx ends.
func (c *Client) stopOnCancel(ctx context.Context, pid int, exited <-chan struct{}, logger *slog.Logger) {
	select {
	case <-exited:
		return
	case <-ctx.Done():
	}

	logger.Info("stopping process group")
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(c.cfg.StopGrace):
		logger.Warn("process group ignored SIGTERM, killing")
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}
