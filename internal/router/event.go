package router

import (
	"fmt"

	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/models"
)

// Outbound event types.
const (
	EventMessageCreated      = "message.created"
	EventNotificationCreated = "notification.created"
	EventTyping              = "presence.typing"
	EventOrderUpdated        = "order.updated"
	EventAck                 = "ack"
	EventError               = "error"
)

// Event is one frame pushed to a client.
type Event struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Scope     *models.Scope    `json:"scope,omitempty"`
	Data      codec.RawMessage `json:"data,omitempty"`
}

// NewEvent encodes data once so the same frame can be fanned out to many
// connections and across the bus without re-encoding.
func NewEvent(typ string, scope *models.Scope, data any) (Event, error) {
	raw, err := codec.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{Type: typ, Scope: scope, Data: raw}, nil
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is a routing request: push Event to every connection resolved
// for Scope except ExceptConn.
type Envelope struct {
	Event      Event        `json:"event"`
	Scope      models.Scope `json:"scope"`
	ExceptConn string       `json:"except_conn,omitempty"`
}
