package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/router"
	"go.uber.org/zap"
)

// Inbound event types.
const (
	EventJoinScope   = "join_scope"
	EventLeaveScope  = "leave_scope"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
)

type inbound struct {
	Type      string           `json:"type" validate:"required,max=32"`
	RequestID string           `json:"request_id" validate:"max=64"`
	Data      codec.RawMessage `json:"data"`
}

type scopePayload struct {
	Scope models.Scope `json:"scope"`
}

type sendPayload struct {
	Scope models.Scope `json:"scope"`
	Body  string       `json:"body"`
}

type typingPayload struct {
	Scope    models.Scope `json:"scope"`
	IsTyping bool         `json:"is_typing"`
}

type session struct {
	gw   *Gateway
	ws   *websocket.Conn
	conn *presence.Conn
	log  *zap.Logger
}

// readPump handles inbound frames one at a time, in arrival order. It owns
// the connection's lifetime: when it returns the connection is gone from
// presence.
func (s *session) readPump(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer func() {
		cancel()
		// The writer sees the closed connection, sends a close frame and
		// closes the socket.
		s.gw.Disconnect(s.conn)
		s.log.Info("websocket disconnected")
	}()

	s.ws.SetReadLimit(s.gw.cfg.MaxMessageBytes)
	if err := s.ws.SetReadDeadline(time.Now().Add(s.gw.pongWait)); err != nil {
		s.log.Debug("websocket read deadline failed", zap.Error(err))
		return
	}
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.gw.pongWait))
	})

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		s.handle(ctx, data)

		if s.conn.Closed() {
			return
		}
	}
}

// writePump is the only goroutine that writes to the socket.
func (s *session) writePump() {
	ticker := time.NewTicker(s.gw.pingPeriod)
	defer func() {
		ticker.Stop()
		s.ws.Close()
	}()

	for {
		select {
		case frame := <-s.conn.Outbound():
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.log.Debug("websocket write failed", zap.Error(err))
				s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.conn.Done():
			// Best effort; the socket is closed either way.
			_ = s.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		}
	}
}

// write sends one frame under writeWait. A deadline that cannot be set
// means the socket is already unusable.
func (s *session) write(messageType int, data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, data)
}

func (s *session) handle(ctx context.Context, data []byte) {
	var in inbound
	if err := codec.Unmarshal(data, &in); err != nil {
		s.fail(in, apperr.Validation("malformed frame: %v", err))
		return
	}
	if err := s.gw.validate.Struct(in); err != nil {
		s.fail(in, apperr.Validation("%v", err))
		return
	}

	var (
		reply any
		err   error
	)
	switch in.Type {
	case EventJoinScope:
		var body scopePayload
		if err = decode(in.Data, &body); err == nil {
			err = s.gw.JoinScope(ctx, s.conn, body.Scope)
			reply = body
		}
	case EventLeaveScope:
		var body scopePayload
		if err = decode(in.Data, &body); err == nil {
			err = s.gw.LeaveScope(s.conn, body.Scope)
			reply = body
		}
	case EventSendMessage:
		var body sendPayload
		if err = decode(in.Data, &body); err == nil {
			reply, err = s.gw.chat.SendMessage(ctx, s.conn, body.Scope, body.Body)
		}
	case EventTyping:
		var body typingPayload
		if err = decode(in.Data, &body); err == nil {
			err = s.gw.chat.Typing(ctx, s.conn, body.Scope, body.IsTyping)
		}
	case EventMarkRead:
		var body scopePayload
		if err = decode(in.Data, &body); err == nil {
			var n int64
			n, err = s.gw.chat.MarkMessagesRead(ctx, s.conn.Principal(), body.Scope)
			reply = map[string]int64{"updated": n}
		}
	default:
		err = apperr.Validation("unknown event type %q", in.Type)
	}

	if err != nil {
		s.fail(in, err)
		return
	}
	metrics.InboundEvents.WithLabelValues(in.Type, "ok").Inc()

	// Typing is fire-and-forget; everything else is acknowledged when the
	// client asked for it or when there is an entity to hand back.
	if in.Type == EventTyping || (in.RequestID == "" && reply == nil) {
		return
	}
	s.reply(router.EventAck, in.RequestID, reply)
}

// decode reads an event payload. Scope values are validated as they are
// decoded, so a malformed scope fails here.
func decode(raw codec.RawMessage, v any) error {
	if len(raw) == 0 {
		return apperr.Validation("missing data")
	}
	if err := codec.Unmarshal(raw, v); err != nil {
		return apperr.Validation("malformed data: %v", err)
	}
	return nil
}

// metricType keeps the event label bounded to the known types.
func metricType(t string) string {
	switch t {
	case EventJoinScope, EventLeaveScope, EventSendMessage, EventTyping, EventMarkRead:
		return t
	default:
		return "unknown"
	}
}

// fail answers with an error event. The connection stays open.
func (s *session) fail(in inbound, err error) {
	code := apperr.Code(err)
	typ := metricType(in.Type)
	metrics.InboundEvents.WithLabelValues(typ, code).Inc()

	if code == "store_error" || code == "internal_error" {
		s.log.Error("inbound event failed", zap.String("type", typ), zap.Error(err))
	} else {
		s.log.Debug("inbound event rejected", zap.String("type", typ), zap.Error(err))
	}
	s.reply(router.EventError, in.RequestID, router.ErrorData{Code: code, Message: apperr.Public(err)})
}

func (s *session) reply(typ, requestID string, data any) {
	ev, err := router.NewEvent(typ, nil, data)
	if err != nil {
		s.log.Error("encode reply", zap.String("type", typ), zap.Error(err))
		return
	}
	ev.RequestID = requestID
	frame, err := codec.Marshal(ev)
	if err != nil {
		s.log.Error("encode reply", zap.String("type", typ), zap.Error(err))
		return
	}
	if !s.conn.Enqueue(frame) {
		s.log.Warn("reply dropped, connection closed", zap.String("type", typ))
	}
}
