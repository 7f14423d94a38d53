// Package bus holds the shared message types exchanged between the broker,
// its storage backends, and the rest of the platform.
package bus

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadKind tags the concrete shape of a message payload on the wire.
type PayloadKind string

const (
	PayloadJSON   PayloadKind = "json"
	PayloadString PayloadKind = "string"
	PayloadBytes  PayloadKind = "bytes"
)

// Payload is a tagged payload value. The tag travels with the message so a
// broker restart reconstructs exactly what was enqueued.
type Payload struct {
	Kind PayloadKind
	raw  []byte
}

// JSONPayload wraps any JSON-serializable value.
func JSONPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{Kind: PayloadJSON, raw: data}, nil
}

// MustJSONPayload is JSONPayload for values known to serialize (tests, literals).
func MustJSONPayload(v any) Payload {
	p, err := JSONPayload(v)
	if err != nil {
		panic(err)
	}
	return p
}

// StringPayload wraps a plain string.
func StringPayload(s string) Payload {
	return Payload{Kind: PayloadString, raw: []byte(s)}
}

// BytesPayload wraps opaque bytes.
func BytesPayload(b []byte) Payload {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Payload{Kind: PayloadBytes, raw: raw}
}

// String returns the payload as a string. For JSON payloads this is the raw
// encoded form.
func (p Payload) String() string { return string(p.raw) }

// Bytes returns the raw payload bytes.
func (p Payload) Bytes() []byte { return p.raw }

// Decode unmarshals a JSON payload into dst.
func (p Payload) Decode(dst any) error {
	if p.Kind != PayloadJSON {
		return fmt.Errorf("payload is %s, not json", p.Kind)
	}
	return json.Unmarshal(p.raw, dst)
}

// Equal reports whether two payloads carry the same tag and bytes.
func (p Payload) Equal(other Payload) bool {
	return p.Kind == other.Kind && string(p.raw) == string(other.raw)
}

type payloadWire struct {
	Kind PayloadKind `json:"kind"`
	Data string      `json:"data"`
}

// MarshalJSON encodes the payload with its tag. Bytes payloads are base64.
func (p Payload) MarshalJSON() ([]byte, error) {
	w := payloadWire{Kind: p.Kind}
	switch p.Kind {
	case PayloadBytes:
		w.Data = base64.StdEncoding.EncodeToString(p.raw)
	default:
		w.Data = string(p.raw)
	}
	return json.Marshal(w)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var w payloadWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case PayloadBytes:
		raw, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return fmt.Errorf("decode bytes payload: %w", err)
		}
		p.Kind, p.raw = PayloadBytes, raw
	case PayloadJSON, PayloadString:
		p.Kind, p.raw = w.Kind, []byte(w.Data)
	default:
		return fmt.Errorf("unknown payload kind %q", w.Kind)
	}
	return nil
}

// Message is a single message or task flowing through the broker.
// ID, Topic, and Timestamp are immutable after creation; RetryCount and
// Error are updated by the retry machinery.
type Message struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	Payload    Payload        `json:"payload"`
	Timestamp  float64        `json:"timestamp"` // unix seconds
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh UUID and the current timestamp.
func NewMessage(topic string, payload Payload, maxRetries int, metadata map[string]any) *Message {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Message{
		ID:         uuid.NewString(),
		Topic:      topic,
		Payload:    payload,
		Timestamp:  float64(time.Now().UnixNano()) / 1e9,
		MaxRetries: maxRetries,
		Metadata:   metadata,
	}
}

// Encode serializes the message envelope for persistence.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message envelope produced by Encode.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// QueueConfig describes a task queue. Never mutated after creation.
type QueueConfig struct {
	Name       string `json:"name"`
	MaxRetries int    `json:"max_retries"`
	DLQEnabled bool   `json:"dlq_enabled"`
}
