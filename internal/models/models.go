package models

import (
	"time"

	"github.com/google/uuid"
)

// Role decides default room membership. Every admin is part of the admin
// broadcast group; clients only ever see their own direct scope and the
// order rooms they explicitly join.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleAdmin
}

// Principal is an authenticated identity.
//
// It is resolved once per websocket connection (at handshake) and once
// per HTTP request (in the auth middleware). It never changes for the
// lifetime of a connection, even if the underlying user row does.
type Principal struct {
	ID    uuid.UUID `json:"id"`
	Role  Role      `json:"role"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// User is the row behind a Principal. The users table belongs to the
// account service; we only read from it.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u User) Principal() Principal {
	return Principal{ID: u.ID, Role: u.Role, Email: u.Email, Name: u.Name}
}

// Message is a single chat message.
//
// OrderID is set for order-room conversations. When it is nil the message
// belongs to a support thread: client messages address the admin group
// (RecipientID nil), admin replies carry the client as RecipientID.
//
// Messages are immutable except for ReadAt, which only ever goes from nil
// to a timestamp.
type Message struct {
	ID          int64      `json:"id"`
	OrderID     *string    `json:"order_id,omitempty"`
	SenderID    uuid.UUID  `json:"sender_id"`
	SenderRole  Role       `json:"sender_role"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// NotificationKind mirrors the severity badges in the back-office UI.
type NotificationKind string

const (
	KindInfo    NotificationKind = "info"
	KindSuccess NotificationKind = "success"
	KindWarning NotificationKind = "warning"
	KindError   NotificationKind = "error"
)

// Notification is always written to the store before any realtime push is
// attempted, so an offline recipient still finds it on next load.
type Notification struct {
	ID             uuid.UUID        `json:"id"`
	RecipientID    uuid.UUID        `json:"recipient_id"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Kind           NotificationKind `json:"kind"`
	RelatedOrderID *string          `json:"related_order_id,omitempty"`
	ActionURL      string           `json:"action_url,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
}

func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}
