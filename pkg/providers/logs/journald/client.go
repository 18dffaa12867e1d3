// Package journald streams a systemd unit's journal.
package journald

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/modoterra/logsource/pkg/core"
	"github.com/modoterra/logsource/pkg/logging"
	"github.com/modoterra/logsource/pkg/providers/logs"
)

// SourceName is used when an entry carries no SYSLOG_IDENTIFIER.
const SourceName = "journald"

// Config selects the unit to follow.
type Config struct {
	Unit string

	// Lines of history to emit before following. Zero starts at the tail.
	Lines int

	// Binary overrides the journalctl executable.
	Binary string
}

// Client follows `journalctl -f -o json` for one unit.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a journald log stream client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Binary == "" {
		cfg.Binary = "journalctl"
	}
	return &Client{cfg: cfg, logger: logger}
}

// Args returns the journalctl arguments for the configured unit.
func (c *Client) Args() []string {
	return []string{"-f", "-o", "json", "-u", c.cfg.Unit, "-n", strconv.Itoa(c.cfg.Lines)}
}

// StreamLogs starts journalctl and returns once it is running.
func (c *Client) StreamLogs(ctx context.Context, applicationID string, l core.Listener) error {
	if c.cfg.Unit == "" {
		return fmt.Errorf("journald: unit is required")
	}
	cmd := exec.CommandContext(ctx, c.cfg.Binary, c.Args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("journalctl pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("journalctl start: %w", err)
	}

	logger := c.logger.With(logging.Application(applicationID), "unit", c.cfg.Unit)
	logger.Info("following journal")

	go func() {
		scanErr := logs.ScanLines(stdout, func(line string) {
			if line == "" {
				return
			}
			r, err := ParseEntry([]byte(line), applicationID, c.cfg.Unit)
			if err != nil {
				logger.Warn("skipping journal entry", logging.Error(err))
				return
			}
			logs.Deliver(ctx, l, r, logger)
		})
		err := cmd.Wait()
		if err == nil {
			err = scanErr
		}
		logs.Finish(ctx, l, err)
	}()
	return nil
}

// ParseEntry converts one journal JSON export line into a record. Priorities
// 0-3 (emerg to err) are STDERR, everything else STDOUT.
func ParseEntry(data []byte, applicationID, unit string) (core.LogRecord, error) {
	var entry map[string]any
	if err := json.Unmarshal(data, &entry); err != nil {
		return core.LogRecord{}, fmt.Errorf("decode entry: %w", err)
	}

	msg, err := field(entry, "MESSAGE")
	if err != nil {
		return core.LogRecord{}, err
	}

	r := core.LogRecord{
		ApplicationID: applicationID,
		Message:       msg,
		Timestamp:     time.Now(),
		MessageType:   core.STDOUT,
		SourceName:    SourceName,
		SourceID:      unit,
	}

	if ts, _ := field(entry, "__REALTIME_TIMESTAMP"); ts != "" {
		us, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return core.LogRecord{}, fmt.Errorf("__REALTIME_TIMESTAMP: %w", err)
		}
		r.Timestamp = time.UnixMicro(us)
	}
	if p, _ := field(entry, "PRIORITY"); p != "" {
		prio, err := strconv.Atoi(p)
		if err == nil && prio <= 3 {
			r.MessageType = core.STDERR
		}
	}
	if id, _ := field(entry, "SYSLOG_IDENTIFIER"); id != "" {
		r.SourceName = id
	}
	if pid, _ := field(entry, "_PID"); pid != "" {
		r.SourceID = pid
	}
	return r, nil
}

// field returns a journal field as text. Fields that are not valid UTF-8 are
// exported as arrays of bytes.
func field(entry map[string]any, key string) (string, error) {
	switch v := entry[key].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []any:
		b := make([]byte, 0, len(v))
		for _, x := range v {
			n, ok := x.(float64)
			if !ok {
				return "", fmt.Errorf("%s: unexpected element %T", key, x)
			}
			b = append(b, byte(n))
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%s: unexpected type %T", key, v)
	}
}
