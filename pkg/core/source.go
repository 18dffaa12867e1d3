package core

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind represents the type of log source.
type SourceKind string

const (
	KindExec      SourceKind = "exec"
	KindJournald  SourceKind = "journald"
	KindFile      SourceKind = "file"
	KindDocker    SourceKind = "docker"
	KindWebSocket SourceKind = "websocket"
)

// Kinds lists every supported source kind.
func Kinds() []SourceKind {
	return []SourceKind{KindExec, KindJournald, KindFile, KindDocker, KindWebSocket}
}

// SourceStatus represents the forwarding state of a source.
type SourceStatus string

const (
	StatusForwarding SourceStatus = "forwarding"
	StatusCompleted  SourceStatus = "completed"
	StatusFailed     SourceStatus = "failed"
	StatusStopped    SourceStatus = "stopped"
)

// Source describes a configured log source and its forwarder.
type Source struct {
	ID          string            `json:"id"`
	Kind        SourceKind        `json:"kind"`
	Name        string            `json:"name"`
	Application string            `json:"application"`
	Status      SourceStatus      `json:"status"`
	RunID       string            `json:"run_id,omitempty"`
	Forwarded   uint64            `json:"forwarded"`
	Failed      uint64            `json:"failed"`
	LastError   string            `json:"last_error,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	Detail      map[string]string `json:"detail,omitempty"`
}

// SourceID constructs a source ID from its components.
// Format: kind:name
func SourceID(kind SourceKind, name string) string {
	return fmt.Sprintf("%s:%s", kind, name)
}

// ParseSourceID splits a source ID into kind and name.
func ParseSourceID(id string) (kind SourceKind, name string, err error) {
	parts := strings.SplitN(id, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid source ID %q: expected kind:name", id)
	}
	return SourceKind(parts[0]), parts[1], nil
}
