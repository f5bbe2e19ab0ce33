// Package events publishes and consumes session lifecycle events on Kafka.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Session event types.
const (
	TypeSignedIn  = "session.signed_in"
	TypeRefreshed = "session.refreshed"
	TypeEnded     = "session.ended"
)

// Event is the envelope of every published message.
type Event struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Subject       string            `json:"subject,omitempty"`
	Version       int               `json:"version"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event with a generated ID and the current time.
func NewEvent(eventType, subject, source string, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Subject:   subject,
		Version:   1,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
		Metadata:  make(map[string]string),
	}, nil
}

// Known reports whether eventType is one of the session event types.
func Known(eventType string) bool {
	switch eventType {
	case TypeSignedIn, TypeRefreshed, TypeEnded:
		return true
	}
	return false
}

// DecodeData unmarshals the event payload into v. An event without data
// leaves v untouched.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// WithCorrelationID sets the correlation ID on the event.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithMetadata adds a key-value pair to the event metadata.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
