package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageEnvelope is the broker wire format. Payload holds the typed event as raw JSON.
type MessageEnvelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  Metadata        `json:"metadata"`
}

type Metadata struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewEnvelope marshals payload into a fresh envelope with a random id.
func NewEnvelope(eventType, source string, payload interface{}) (MessageEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return MessageEnvelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}, nil
}

// Decode unmarshals the payload into v.
func (m MessageEnvelope) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("message %s has empty payload", m.ID)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

func (m MessageEnvelope) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("message id is required")
	case m.Type == "":
		return fmt.Errorf("message type is required")
	case m.Timestamp.IsZero():
		return fmt.Errorf("message timestamp is required")
	}
	return nil
}
