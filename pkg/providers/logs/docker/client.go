// Package docker streams a container's logs through the Docker Engine API.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/providers/logs"
)

// SourceName is the source name carried by every record.
const SourceName = "docker"

// API is the subset of the Docker client used here.
type API interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
}

// Config selects the container to follow.
type Config struct {
	Container string

	// Host overrides DOCKER_HOST.
	Host string

	// Tail is the number of history lines to emit first ("all" or a count).
	// Empty means none.
	Tail string
}

// Client follows one container's stdout and stderr.
type Client struct {
	api    API
	cfg    Config
	logger *slog.Logger
}

// New connects to the Docker daemon from the environment.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	api, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return NewWithAPI(api, cfg, logger), nil
}

// NewWithAPI uses an existing API implementation.
func NewWithAPI(api API, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tail == "" {
		cfg.Tail = "0"
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// StreamLogs attaches to the container's log stream. The stream completes
// when the container stops or ctx is cancelled.
func (c *Client) StreamLogs(ctx context.Context, applicationID string, l core.Listener) error {
	info, err := c.api.ContainerInspect(ctx, c.cfg.Container)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", c.cfg.Container, err)
	}
	tty := info.Config != nil && info.Config.Tty

	rc, err := c.api.ContainerLogs(ctx, c.cfg.Container, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: true,
		Tail:       c.cfg.Tail,
	})
	if err != nil {
		return fmt.Errorf("logs %s: %w", c.cfg.Container, err)
	}

	logger := c.logger.With(logging.Application(applicationID), "container", c.cfg.Container)
	logger.Info("following container logs", "state", containerState(info), "tty", tty)

	go func() {
		defer rc.Close()
		logs.Finish(ctx, l, c.pump(ctx, rc, tty, applicationID, l, logger))
	}()
	return nil
}

func (c *Client) pump(ctx context.Context, rc io.Reader, tty bool, app string, l core.Listener, logger *slog.Logger) error {
	emit := func(mt core.MessageType) func(string) {
		return func(line string) {
			ts, msg := SplitTimestamp(line)
			logs.Deliver(ctx, l, core.LogRecord{
				ApplicationID: app,
				Message:       msg,
				Timestamp:     ts,
				MessageType:   mt,
				SourceName:    SourceName,
				SourceID:      c.cfg.Container,
			}, logger)
		}
	}

	if tty {
		return ignoreClosed(logs.ScanLines(rc, emit(core.STDOUT)))
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	var (
		wg      sync.WaitGroup
		scanErr [2]error
	)
	scan := func(i int, r *io.PipeReader, mt core.MessageType) {
		defer wg.Done()
		if err := logs.ScanLines(r, emit(mt)); err != nil {
			scanErr[i] = fmt.Errorf("read %s: %w", mt, err)
			r.CloseWithError(err)
		}
	}
	wg.Add(2)
	go scan(0, outR, core.STDOUT)
	go scan(1, errR, core.STDERR)

	_, err := stdcopy.StdCopy(outW, errW, rc)
	outW.Close()
	errW.Close()
	wg.Wait()
	if se := errors.Join(scanErr[0], scanErr[1]); se != nil {
		return se
	}
	return ignoreClosed(err)
}

// SplitTimestamp separates the RFC 3339 prefix Docker adds with Timestamps.
// Lines without a valid prefix keep their text and get the current time.
func SplitTimestamp(line string) (time.Time, string) {
	prefix, rest, ok := strings.Cut(line, " ")
	if !ok {
		prefix, rest = line, ""
	}
	ts, err := time.Parse(time.RFC3339Nano, prefix)
	if err != nil {
		return time.Now(), line
	}
	return ts, rest
}

func containerState(info container.InspectResponse) string {
	if info.ContainerJSONBase == nil || info.State == nil {
		return "unknown"
	}
	return string(info.State.Status)
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
