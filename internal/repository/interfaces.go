package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/models"
)

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

// Every method takes ctx first: store calls are the only places a
// connection's event loop is allowed to block, and they must stop when
// the connection or request goes away.

// UserRepository reads the account service's users table.
type UserRepository interface {
	// GetByID returns nil, nil if the user does not exist.
	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)

	// GetByEmail returns nil, nil if no user has that email. Used by login.
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// ListActiveAdmins returns every active admin. Notification templates
	// that address "all admins" fan out over this list.
	ListActiveAdmins(ctx context.Context) ([]models.User, error)
}

// OrderDirectory answers the one question the messaging core asks about
// orders: who owns this one. The orders table belongs to the order service.
type OrderDirectory interface {
	// OrderOwner returns uuid.Nil, false, nil if the order does not exist.
	OrderOwner(ctx context.Context, orderID string) (uuid.UUID, bool, error)

	// OrdersOwnedBy lists the ids of a client's orders.
	OrdersOwnedBy(ctx context.Context, clientID uuid.UUID) ([]string, error)
}

// NewMessage is what the send path hands to the store.
type NewMessage struct {
	OrderID     *string
	SenderID    uuid.UUID
	SenderRole  models.Role
	RecipientID *uuid.UUID
	Body        string
}

// MessageRepository persists chat messages.
//
// Scope filters:
//
//	Order(id)        order_id = id
//	Direct(p)        support thread of p: no order, sent by or addressed to p
//	AdminBroadcast   client support messages addressed to the admin group
type MessageRepository interface {
	// Create persists a message and returns it with ID and CreatedAt set.
	Create(ctx context.Context, msg NewMessage) (*models.Message, error)

	// ListByScope returns messages newest first. before=0 starts from the
	// latest message.
	ListByScope(ctx context.Context, scope models.Scope, before int64, limit int) ([]models.Message, error)

	// MarkScopeRead sets read_at on unread messages in scope that are
	// addressed to reader: client messages for an admin, admin messages or
	// replies to them for a client. Another admin's reply stays unread for
	// its client. Returns how many rows changed.
	MarkScopeRead(ctx context.Context, scope models.Scope, reader models.Principal) (int64, error)

	// CountUnreadFor counts unread messages waiting for p. For a client:
	// admin replies in their support thread plus messages by others in
	// orderIDs. For an admin: client support messages nobody has read yet
	// plus messages by others in orderIDs.
	CountUnreadFor(ctx context.Context, p models.Principal, orderIDs []string) (int64, error)
}

// NotificationQuery filters a notification listing.
type NotificationQuery struct {
	RecipientID uuid.UUID
	UnreadOnly  bool
	Offset      int
	Limit       int
}

// NotificationRepository persists notifications.
type NotificationRepository interface {
	Create(ctx context.Context, n models.Notification) (*models.Notification, error)

	// GetForRecipient returns nil, nil if the notification does not exist
	// or belongs to someone else.
	GetForRecipient(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error)

	// MarkRead sets read_at if unset and returns the row. nil, nil if not
	// owned by recipientID.
	MarkRead(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error)

	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)

	CountUnread(ctx context.Context, recipientID uuid.UUID) (int64, error)

	// List returns a page newest first plus the total matching count.
	List(ctx context.Context, q NotificationQuery) ([]models.Notification, int64, error)

	// Delete returns false if nothing owned by recipientID matched.
	Delete(ctx context.Context, id uuid.UUID, recipientID uuid.UUID) (bool, error)

	// DeleteReadBefore removes read notifications created before cutoff.
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
