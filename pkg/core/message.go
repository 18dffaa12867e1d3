package core

import (
	"fmt"
	"time"
)

// Header keys attached to every forwarded message. The set is closed.
const (
	HeaderApplicationID = "logsource_applicationId"
	HeaderTimestamp     = "logsource_timestamp"
	HeaderMessageType   = "logsource_messageType"
	HeaderSourceName    = "logsource_sourceName"
	HeaderSourceID      = "logsource_sourceId"
)

var headerKeys = [...]string{
	HeaderApplicationID,
	HeaderTimestamp,
	HeaderMessageType,
	HeaderSourceName,
	HeaderSourceID,
}

// HeaderKeys returns the header keys in a fixed order.
func HeaderKeys() []string {
	return headerKeys[:]
}

// Message is an outbound message: the log text as payload plus typed metadata headers.
// Header values keep the record's types: time.Time for HeaderTimestamp and
// MessageType for HeaderMessageType.
type Message struct {
	Payload string
	Headers map[string]any
}

// NewMessage maps a record to its outbound message. It depends on nothing but r.
func NewMessage(r LogRecord) Message {
	return Message{
		Payload: r.Message,
		Headers: map[string]any{
			HeaderApplicationID: r.ApplicationID,
			HeaderTimestamp:     r.Timestamp,
			HeaderMessageType:   r.MessageType,
			HeaderSourceName:    r.SourceName,
			HeaderSourceID:      r.SourceID,
		},
	}
}

// RecordFromMessage reverses NewMessage. It fails when a header is missing or has the wrong type.
func RecordFromMessage(m Message) (LogRecord, error) {
	var (
		r   LogRecord
		err error
	)
	r.Message = m.Payload
	if r.ApplicationID, err = stringHeader(m, HeaderApplicationID); err != nil {
		return LogRecord{}, err
	}
	if r.SourceName, err = stringHeader(m, HeaderSourceName); err != nil {
		return LogRecord{}, err
	}
	if r.SourceID, err = stringHeader(m, HeaderSourceID); err != nil {
		return LogRecord{}, err
	}

	ts, ok := m.Headers[HeaderTimestamp].(time.Time)
	if !ok {
		return LogRecord{}, fmt.Errorf("header %s: want time.Time, got %T", HeaderTimestamp, m.Headers[HeaderTimestamp])
	}
	r.Timestamp = ts

	mt, ok := m.Headers[HeaderMessageType].(MessageType)
	if !ok {
		return LogRecord{}, fmt.Errorf("header %s: want MessageType, got %T", HeaderMessageType, m.Headers[HeaderMessageType])
	}
	r.MessageType = mt
	return r, nil
}

func stringHeader(m Message, key string) (string, error) {
	v, ok := m.Headers[key].(string)
	if !ok {
		return "", fmt.Errorf("header %s: want string, got %T", key, m.Headers[key])
	}
	return v, nil
}
