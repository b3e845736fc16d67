// Package event defines the named signals exchanged between the host and the
// remote product manager module, and their payload shapes.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event errors.
var (
	ErrInvalidEventName = errors.New("invalid event name: expected <namespace>:<event>")
	ErrEmptyPayload     = errors.New("event payload is empty")
)

// Event is a named, loosely typed message. The payload stays raw JSON so
// each side decodes only the fields it knows about.
type Event struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Metadata   Metadata        `json:"metadata"`
}

// Metadata describes where an event came from.
type Metadata struct {
	// Origin identifies the publishing process; bridges use it to drop their own echoes.
	Origin string `json:"origin,omitempty"`
	// Source is the transport the event arrived through (local, redis, websocket, http).
	Source string `json:"source,omitempty"`
	// CorrelationID ties a response to the request that triggered it.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Event sources.
const (
	SourceLocal     = "local"
	SourceRedis     = "redis"
	SourceWebSocket = "websocket"
	SourceHTTP      = "http"
)

// New builds an event with a fresh id. A nil payload is encoded as an empty object.
func New(name string, payload any) (Event, error) {
	if err := ValidateName(name); err != nil {
		return Event{}, err
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode payload for %s: %w", name, err)
	}

	return Event{
		ID:         uuid.New().String(),
		Name:       name,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
		Metadata:   Metadata{Source: SourceLocal},
	}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(p) {
			return nil, errors.New("raw payload is not valid JSON")
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// WithMetadata returns a copy of the event carrying md.
func (e Event) WithMetadata(md Metadata) Event {
	e.Metadata = md
	return e
}

// Decode unmarshals the event payload into T. Unknown fields are ignored and
// missing fields stay at their zero value; callers validate what they need.
func Decode[T any](e Event) (T, error) {
	var out T
	if len(e.Payload) == 0 {
		return out, ErrEmptyPayload
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s payload: %w", e.Name, err)
	}
	return out, nil
}

// ValidateName checks that name is of the form <namespace>:<event>.
func ValidateName(name string) error {
	ns, local, ok := strings.Cut(name, ":")
	if !ok || ns == "" || local == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	return nil
}

// Namespace returns the part of name before the first colon.
func Namespace(name string) string {
	ns, _, _ := strings.Cut(name, ":")
	return ns
}
