package core

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSourceID(t *testing.T) {
	id := SourceID(KindJournald, "nginx.service")
	if id != "journald:nginx.service" {
		t.Errorf("expected journald:nginx.service, got %s", id)
	}
}

func TestParseSourceID(t *testing.T) {
	tests := []struct {
		input     string
		wantKind  SourceKind
		wantName  string
		wantError bool
	}{
		{"exec:web", KindExec, "web", false},
		{"file:/var/log/app.log", KindFile, "/var/log/app.log", false},
		{"docker:mailpit", KindDocker, "mailpit", false},
		{"websocket:foo:bar", KindWebSocket, "foo:bar", false},
		{"invalid", "", "", true},
		{":name", "", "", true},
		{"exec:", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, name, err := ParseSourceID(tt.input)
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error for %q: %v", tt.input, err)
				return
			}
			if kind != tt.wantKind {
				t.Errorf("kind: got %q, want %q", kind, tt.wantKind)
			}
			if name != tt.wantName {
				t.Errorf("name: got %q, want %q", name, tt.wantName)
			}
		})
	}
}

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		input   string
		want    MessageType
		wantErr bool
	}{
		{"STDOUT", STDOUT, false},
		{"stdout", STDOUT, false},
		{" stderr ", STDERR, false},
		{"ERR", STDERR, false},
		{"journal", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseMessageType(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseMessageType(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseMessageType(%q) = %v, %v; want %v", tt.input, got, err, tt.want)
		}
	}
}

func TestMessageTypeJSON(t *testing.T) {
	data, err := json.Marshal(STDERR)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"STDERR"` {
		t.Errorf("marshal: got %s", data)
	}

	var mt MessageType
	if err := json.Unmarshal([]byte(`"STDOUT"`), &mt); err != nil {
		t.Fatal(err)
	}
	if mt != STDOUT {
		t.Errorf("unmarshal: got %v", mt)
	}

	if _, err := json.Marshal(MessageType(0)); err == nil {
		t.Error("expected error marshalling zero MessageType")
	}
}

func TestNewMessage(t *testing.T) {
	r := LogRecord{
		ApplicationID: "foo",
		Message:       "hello",
		Timestamp:     time.UnixMilli(1),
		MessageType:   STDOUT,
		SourceName:    "srcN",
		SourceID:      "srcID",
	}

	m := NewMessage(r)
	if m.Payload != "hello" {
		t.Errorf("payload: got %q", m.Payload)
	}
	if len(m.Headers) != len(HeaderKeys()) {
		t.Fatalf("headers: got %d, want %d", len(m.Headers), len(HeaderKeys()))
	}
	if got := m.Headers[HeaderApplicationID]; got != "foo" {
		t.Errorf("application id: got %v", got)
	}
	if got, ok := m.Headers[HeaderTimestamp].(time.Time); !ok || !got.Equal(time.UnixMilli(1)) {
		t.Errorf("timestamp: got %#v", m.Headers[HeaderTimestamp])
	}
	if got, ok := m.Headers[HeaderMessageType].(MessageType); !ok || got != STDOUT {
		t.Errorf("message type: got %#v", m.Headers[HeaderMessageType])
	}
	if got := m.Headers[HeaderSourceName]; got != "srcN" {
		t.Errorf("source name: got %v", got)
	}
	if got := m.Headers[HeaderSourceID]; got != "srcID" {
		t.Errorf("source id: got %v", got)
	}
}

func TestNewMessageIndependentHeaders(t *testing.T) {
	r := LogRecord{ApplicationID: "a", Message: "x", MessageType: STDERR}
	m1 := NewMessage(r)
	m1.Headers[HeaderSourceName] = "mutated"

	m2 := NewMessage(r)
	if m2.Headers[HeaderSourceName] != "" {
		t.Errorf("headers leaked between messages: %v", m2.Headers[HeaderSourceName])
	}
}

func TestRecordFromMessageRoundTrip(t *testing.T) {
	r := LogRecord{
		ApplicationID: "app",
		Message:       "boom",
		Timestamp:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		MessageType:   STDERR,
		SourceName:    "APP/PROC/WEB",
		SourceID:      "0",
	}
	got, err := RecordFromMessage(NewMessage(r))
	if err != nil {
		t.Fatal(err)
	}
	if got != r {
		t.Errorf("round-trip failed: %+v != %+v", got, r)
	}
}

func TestRecordFromMessageWrongType(t *testing.T) {
	m := NewMessage(LogRecord{ApplicationID: "app", MessageType: STDOUT})
	m.Headers[HeaderTimestamp] = "1970-01-01T00:00:00Z"
	if _, err := RecordFromMessage(m); err == nil {
		t.Error("expected error for stringified timestamp")
	}

	m = NewMessage(LogRecord{ApplicationID: "app", MessageType: STDOUT})
	delete(m.Headers, HeaderSourceID)
	if _, err := RecordFromMessage(m); err == nil {
		t.Error("expected error for missing source id")
	}
}
