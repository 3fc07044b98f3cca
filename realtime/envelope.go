package realtime

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
)

// Routing keys carried by event payloads.
const (
	RouteConversationID = "conversationId"
	RouteTicketID       = "ticketId"
	RouteMessageID      = "messageId"
	RouteUserID         = "userId"
	RouteID             = "id"
)

// Envelope is the wire frame of a realtime event.
type Envelope struct {
	Type    string  `json:"type"`
	ID      string  `json:"id,omitempty"`
	Payload Payload `json:"payload,omitempty"`
}

// Payload is the decoded event body.
type Payload map[string]any

// String returns the payload field as a string. Numbers are rendered without
// exponent so numeric ids route the same way as string ids.
func (p Payload) String(field string) string {
	switch v := p[field].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// EventID returns the id used for de-duplication: the envelope id, falling
// back to the payload messageId.
func (e Envelope) EventID() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Payload.String(RouteMessageID)
}

// DecodeEnvelope parses a wire frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("realtime: decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("realtime: decode envelope: %w", ErrMissingType)
	}
	return env, nil
}

// EncodeEnvelope renders a wire frame.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
