package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/modoterra/logsource/pkg/core"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty data", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode data: %w", m.Method, err)
	}
	return nil
}

func newMessage(typ MsgType, id, method string, data any) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{Type: typ, ID: id, Method: method, Data: raw}, nil
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	return newMessage(MsgTypeReq, fmt.Sprintf("req-%d", reqCounter.Add(1)), method, data)
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	return newMessage(MsgTypeRes, reqID, method, data)
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	return newMessage(MsgTypeEvt, fmt.Sprintf("evt-%d", reqCounter.Add(1)), method, data)
}

// Methods
const (
	MethodPing            = "Ping"
	MethodLoadManifest    = "LoadManifest"
	MethodListSources     = "ListSources"
	MethodGetSource       = "GetSource"
	MethodAction          = "Action"
	MethodLogsSubscribe   = "LogsSubscribe"
	MethodLogsUnsubscribe = "LogsUnsubscribe"

	EventSourcesDelta = "sources.delta"
	EventLogsMessage  = "logs.message"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// ActionRequest is the payload for an Action request.
type ActionRequest struct {
	SourceID string `json:"source_id"`
	Action   string `json:"action"` // start, stop
}

// GetSourceRequest is the payload for GetSource.
type GetSourceRequest struct {
	ID string `json:"id"`
}

// LoadManifestRequest is the payload for LoadManifest.
type LoadManifestRequest struct {
	Path string `json:"path"`
}

// LoadManifestResponse is the response for LoadManifest.
type LoadManifestResponse struct {
	OK      bool     `json:"ok"`
	Sources int      `json:"sources,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// LogsSubscribeRequest selects which applications' messages a client receives.
// An empty list subscribes to every application.
type LogsSubscribeRequest struct {
	Applications []string `json:"applications,omitempty"`
}

// LogHeaders is the wire form of a message's headers.
type LogHeaders struct {
	ApplicationID string           `json:"application_id"`
	Timestamp     time.Time        `json:"timestamp"`
	MessageType   core.MessageType `json:"message_type"`
	SourceName    string           `json:"source_name"`
	SourceID      string           `json:"source_id"`
}

// LogMessage is the payload of a logs.message event.
type LogMessage struct {
	Payload string     `json:"payload"`
	Headers LogHeaders `json:"headers"`
}

// NewLogMessage converts a forwarded message to its wire form.
func NewLogMessage(m core.Message) (LogMessage, error) {
	r, err := core.RecordFromMessage(m)
	if err != nil {
		return LogMessage{}, err
	}
	return LogMessage{
		Payload: m.Payload,
		Headers: LogHeaders{
			ApplicationID: r.ApplicationID,
			Timestamp:     r.Timestamp,
			MessageType:   r.MessageType,
			SourceName:    r.SourceName,
			SourceID:      r.SourceID,
		},
	}, nil
}

// Record returns the log record carried by lm.
func (lm LogMessage) Record() core.LogRecord {
	return core.LogRecord{
		ApplicationID: lm.Headers.ApplicationID,
		Message:       lm.Payload,
		Timestamp:     lm.Headers.Timestamp,
		MessageType:   lm.Headers.MessageType,
		SourceName:    lm.Headers.SourceName,
		SourceID:      lm.Headers.SourceID,
	}
}

// Message returns the typed core.Message carried by lm.
func (lm LogMessage) Message() core.Message {
	return core.NewMessage(lm.Record())
}
