// Package filetail streams lines appended to a file.
package filetail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/providers/logs"
)

// SourceName is the source name carried by every record.
const SourceName = "file"

// DefaultPollInterval is how often the file is checked for new data.
const DefaultPollInterval = 250 * time.Millisecond

// Config selects the file to tail.
type Config struct {
	Path string

	// FromStart emits the existing content before following.
	FromStart bool

	PollInterval time.Duration
}

// Client tails one file until its context ends. Truncation rewinds to the start.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a file tail log stream client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Client{cfg: cfg, logger: logger}
}

// StreamLogs opens the file and follows it in the background.
func (c *Client) StreamLogs(ctx context.Context, applicationID string, l core.Listener) error {
	f, err := os.Open(c.cfg.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.cfg.Path, err)
	}
	if !c.cfg.FromStart {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("seek %s: %w", c.cfg.Path, err)
		}
	}

	logger := c.logger.With(logging.Application(applicationID), "path", c.cfg.Path)
	logger.Info("tailing file")

	go func() {
		defer f.Close()
		logs.Finish(ctx, l, c.follow(ctx, f, applicationID, l, logger))
	}()
	return nil
}

func (c *Client) follow(ctx context.Context, f *os.File, app string, l core.Listener, logger *slog.Logger) error {
	reader := bufio.NewReader(f)
	var partial strings.Builder
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			line := strings.TrimSuffix(strings.TrimSuffix(partial.String(), "\n"), "\r")
			partial.Reset()
			logs.Deliver(ctx, l, core.LogRecord{
				ApplicationID: app,
				Message:       line,
				Timestamp:     time.Now(),
				MessageType:   core.STDOUT,
				SourceName:    SourceName,
				SourceID:      c.cfg.Path,
			}, logger)
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("read %s: %w", c.cfg.Path, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", c.cfg.Path, err)
		}
		pos, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("seek %s: %w", c.cfg.Path, err)
		}
		if info.Size() < pos {
			logger.Info("file truncated, rewinding")
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("seek %s: %w", c.cfg.Path, err)
			}
			reader.Reset(f)
			partial.Reset()
		}
	}
}
