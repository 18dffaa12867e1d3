package core

import (
	"fmt"
	"strings"
	"time"
)

// MessageType identifies the output stream a log record was written to.
type MessageType int

const (
	STDOUT MessageType = iota + 1
	STDERR
)

// String returns the stream name ("STDOUT" or "STDERR").
func (t MessageType) String() string {
	switch t {
	case STDOUT:
		return "STDOUT"
	case STDERR:
		return "STDERR"
	default:
		return fmt.Sprintf("MessageType(%d)", int(t))
	}
}

// ParseMessageType accepts the names produced by String, case-insensitively.
// "OUT" and "ERR" are accepted as shorthands.
func ParseMessageType(s string) (MessageType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STDOUT", "OUT":
		return STDOUT, nil
	case "STDERR", "ERR":
		return STDERR, nil
	}
	return 0, fmt.Errorf("unknown message type %q", s)
}

func (t MessageType) MarshalText() ([]byte, error) {
	if t != STDOUT && t != STDERR {
		return nil, fmt.Errorf("invalid message type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *MessageType) UnmarshalText(b []byte) error {
	v, err := ParseMessageType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// LogRecord is a single log line emitted by a running application.
// Records are produced by a LogStreamClient and must not be mutated by listeners.
type LogRecord struct {
	ApplicationID string      `json:"application_id"`
	Message       string      `json:"message"`
	Timestamp     time.Time   `json:"timestamp"`
	MessageType   MessageType `json:"message_type"`
	SourceName    string      `json:"source_name"`
	SourceID      string      `json:"source_id"`
}

// String renders the record on one line for debug output.
func (r LogRecord) String() string {
	return fmt.Sprintf("%s [%s/%s] %s %s",
		r.Timestamp.Format(time.RFC3339Nano), r.SourceName, r.SourceID, r.MessageType, r.Message)
}
