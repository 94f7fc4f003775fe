// Package chat is the message send path and the unread counter.
package chat

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository"
	"github.com/lalith-99/pressroom/internal/router"
	"go.uber.org/zap"
)

const (
	MaxBodyRunes     = 2000
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

type Service struct {
	messages repository.MessageRepository
	orders   repository.OrderDirectory
	router   router.Router
	presence *presence.Registry
	logger   *zap.Logger
}

func NewService(
	messages repository.MessageRepository,
	orders repository.OrderDirectory,
	rt router.Router,
	reg *presence.Registry,
	logger *zap.Logger,
) *Service {
	return &Service{
		messages: messages,
		orders:   orders,
		router:   rt,
		presence: reg,
		logger:   logger,
	}
}

// route is where a message is stored and pushed.
type route struct {
	orderID   *string
	recipient *uuid.UUID   // only set for admin replies
	target    models.Scope // who gets the push
	thread    models.Scope // scope stamped on the event
}

// resolve applies the support model: clients talk to the admin group,
// admins reply to one client, everyone in an order room sees the room.
func (s *Service) resolve(ctx context.Context, sender models.Principal, scope models.Scope) (route, error) {
	switch scope.Kind {
	case models.ScopeOrder:
		if err := s.Authorize(ctx, sender, scope); err != nil {
			return route{}, err
		}
		id := scope.OrderID
		return route{orderID: &id, target: scope, thread: scope}, nil

	case models.ScopeDirect, models.ScopeAdminBroadcast:
		if !sender.IsAdmin() {
			// Clients never push to another client; the admin group
			// picks the message up in the sender's support thread.
			return route{target: models.AdminBroadcast(), thread: models.Direct(sender.ID)}, nil
		}
		if scope.Kind == models.ScopeDirect {
			to := scope.PrincipalID
			return route{recipient: &to, target: scope, thread: scope}, nil
		}
		return route{target: scope, thread: scope}, nil
	}
	return route{}, apperr.Validation("unknown scope kind %d", scope.Kind)
}

// SendMessage persists body and pushes message.created to the resolved
// scope. The sender's own connection is left out of the push; its other
// connections are not. Nothing is pushed if the write fails.
func (s *Service) SendMessage(ctx context.Context, sender *presence.Conn, scope models.Scope, body string) (*models.Message, error) {
	if err := scope.Validate(); err != nil {
		return nil, apperr.Validation("%v", err)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperr.Validation("message body is empty")
	}
	if n := utf8.RuneCountInString(body); n > MaxBodyRunes {
		return nil, apperr.Validation("message body is %d characters, max %d", n, MaxBodyRunes)
	}

	p := sender.Principal()
	rt, err := s.resolve(ctx, p, scope)
	if err != nil {
		return nil, err
	}

	in := repository.NewMessage{
		OrderID:     rt.orderID,
		SenderID:    p.ID,
		SenderRole:  p.Role,
		RecipientID: rt.recipient,
		Body:        body,
	}
	msg, err := s.messages.Create(ctx, in)
	if err != nil {
		return nil, apperr.Store("create message", err)
	}

	thread := rt.thread
	ev, err := router.NewEvent(router.EventMessageCreated, &thread, msg)
	if err != nil {
		// The message is stored; the push is best effort.
		s.logger.Error("encode message event", zap.Int64("message_id", msg.ID), zap.Error(err))
		return msg, nil
	}
	s.router.Route(ctx, router.Envelope{Event: ev, Scope: rt.target, ExceptConn: sender.ID()})

	s.logger.Debug("message sent",
		zap.Int64("message_id", msg.ID),
		zap.String("sender_id", p.ID.String()),
		zap.String("target", rt.target.Key()),
	)
	return msg, nil
}

// Authorize decides whether p may read or join scope. Admins see every
// scope of an existing order and every support thread. Clients see their
// own support thread and orders they own. Anything else is NotFound.
func (s *Service) Authorize(ctx context.Context, p models.Principal, scope models.Scope) error {
	if err := scope.Validate(); err != nil {
		return apperr.Validation("%v", err)
	}

	switch scope.Kind {
	case models.ScopeOrder:
		owner, ok, err := s.orders.OrderOwner(ctx, scope.OrderID)
		if err != nil {
			return apperr.Store("look up order", err)
		}
		if !ok || (!p.IsAdmin() && owner != p.ID) {
			return apperr.NotFound("order %s", scope.OrderID)
		}
		return nil
	case models.ScopeDirect:
		if p.IsAdmin() || scope.PrincipalID == p.ID {
			return nil
		}
	case models.ScopeAdminBroadcast:
		if p.IsAdmin() {
			return nil
		}
	}
	return apperr.NotFound("scope %s", scope)
}

// MarkMessagesRead marks every unread message in scope that p did not
// write. Calling it again changes nothing.
func (s *Service) MarkMessagesRead(ctx context.Context, p models.Principal, scope models.Scope) (int64, error) {
	if err := s.Authorize(ctx, p, scope); err != nil {
		return 0, err
	}
	n, err := s.messages.MarkScopeRead(ctx, scope, p)
	if err != nil {
		return 0, apperr.Store("mark messages read", err)
	}
	return n, nil
}

// History pages backwards through a scope, newest first. before is the id
// of the oldest message already seen, or 0 for the first page.
func (s *Service) History(ctx context.Context, p models.Principal, scope models.Scope, before int64, limit int) ([]models.Message, error) {
	if err := s.Authorize(ctx, p, scope); err != nil {
		return nil, err
	}
	if before < 0 {
		return nil, apperr.Validation("before must be positive")
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	msgs, err := s.messages.ListByScope(ctx, scope, before, limit)
	if err != nil {
		return nil, apperr.Store("list messages", err)
	}
	return msgs, nil
}

// UnreadCount is the chat badge: for a client, admin replies plus other
// people's messages in their orders; for an admin, client support messages
// nobody has read yet.
func (s *Service) UnreadCount(ctx context.Context, p models.Principal) (int64, error) {
	var orderIDs []string
	if !p.IsAdmin() {
		ids, err := s.orders.OrdersOwnedBy(ctx, p.ID)
		if err != nil {
			return 0, apperr.Store("list client orders", err)
		}
		orderIDs = ids
	}
	n, err := s.messages.CountUnreadFor(ctx, p, orderIDs)
	if err != nil {
		return 0, apperr.Store("count unread messages", err)
	}
	return n, nil
}

// TypingData is the payload of presence.typing.
type TypingData struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	IsTyping bool   `json:"is_typing"`
}

// Typing relays a typing indicator to the rest of an order room. The
// sender must have joined the room. Nothing is stored.
func (s *Service) Typing(ctx context.Context, sender *presence.Conn, scope models.Scope, isTyping bool) error {
	if scope.Kind != models.ScopeOrder {
		return apperr.Validation("typing is only relayed in order rooms")
	}
	if !s.presence.HasJoined(sender, scope) {
		return apperr.NotFound("order %s not joined", scope.OrderID)
	}

	p := sender.Principal()
	ev, err := router.NewEvent(router.EventTyping, &scope, TypingData{
		UserID:   p.ID.String(),
		Name:     p.Name,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	s.router.Route(ctx, router.Envelope{Event: ev, Scope: scope, ExceptConn: sender.ID()})
	return nil
}
