package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medtrack/medtrack-backend/pkg/enums"
)

// SchemaVersion is stamped on every envelope this module produces.
const SchemaVersion = "1.0"

// Envelope is the wire wrapper shared by every service on the bus.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     enums.EventType `json:"event_type"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Source        string          `json:"source"`
	Version       string          `json:"version"`
	Data          json.RawMessage `json:"data"`
}

// DecodeData unmarshals the envelope data into target.
func (e Envelope) DecodeData(target any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty payload for %s", e.EventType)
	}
	if err := json.Unmarshal(e.Data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// ParsedEventID returns the event id as a UUID, or uuid.Nil when it is missing or malformed.
func (e Envelope) ParsedEventID() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(e.EventID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Encode wraps payload in a fresh envelope and serializes it. A new correlation id is minted when none is given.
func Encode(eventType enums.EventType, payload any, source, correlationID string) ([]byte, Envelope, error) {
	if err := ValidateEventType(string(eventType)); err != nil {
		return nil, Envelope{}, err
	}

	data, err := encodeData(payload)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	correlationID = strings.TrimSpace(correlationID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	envelope := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Source:        strings.TrimSpace(source),
		Version:       SchemaVersion,
		Data:          data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, Envelope{}, fmt.Errorf("encode %s envelope: %w", eventType, err)
	}
	return body, envelope, nil
}

func encodeData(payload any) (json.RawMessage, error) {
	if payload == nil {
		return json.RawMessage(`{}`), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if !isJSONObject(raw) {
		return nil, fmt.Errorf("payload must encode to a JSON object, got %s", firstByteKind(raw))
	}
	return raw, nil
}

// Decode parses a wire body. Any structural problem yields a *DecodeError.
func Decode(body []byte) (*Envelope, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, newDecodeError("empty body", nil)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, newDecodeError("invalid json", err)
	}

	envelope.EventType = enums.EventType(strings.TrimSpace(string(envelope.EventType)))
	if envelope.EventType == "" {
		return nil, newDecodeError("event_type missing", nil)
	}
	if err := ValidateEventType(string(envelope.EventType)); err != nil {
		return nil, newDecodeError("event_type invalid", err)
	}
	if !isJSONObject(envelope.Data) {
		return nil, newDecodeError("data must be a JSON object", nil)
	}
	if !envelope.Timestamp.IsZero() {
		envelope.Timestamp = envelope.Timestamp.UTC()
	}
	return &envelope, nil
}

// ValidateEventType enforces dotted, non-empty segments without broker wildcards.
func ValidateEventType(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("event type is required")
	}
	if strings.ContainsAny(value, "*# ") {
		return fmt.Errorf("event type %q must not contain wildcards or spaces", value)
	}
	for _, segment := range strings.Split(value, ".") {
		if segment == "" {
			return fmt.Errorf("event type %q has an empty segment", value)
		}
	}
	return nil
}

func isJSONObject(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) >= 2 && trimmed[0] == '{' && json.Valid(trimmed)
}

func firstByteKind(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "nothing"
	}
	switch trimmed[0] {
	case '[':
		return "array"
	case '"':
		return "string"
	case 'n':
		return "null"
	case 't', 'f':
		return "boolean"
	default:
		return "number"
	}
}
