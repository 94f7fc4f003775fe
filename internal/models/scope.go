package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/codec"
)

// ScopeKind tags the Scope variant.
type ScopeKind int

const (
	ScopeDirect ScopeKind = iota + 1
	ScopeOrder
	ScopeAdminBroadcast
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeDirect:
		return "direct"
	case ScopeOrder:
		return "order"
	case ScopeAdminBroadcast:
		return "admin"
	default:
		return "unknown"
	}
}

var ErrInvalidScope = errors.New("invalid scope")

// Scope is a routing target. Exactly one of the variants is meaningful:
//
//	Direct(principalID)  every connection owned by that principal
//	Order(orderID)       every connection that joined the order room
//	AdminBroadcast()     every connection owned by an admin
//
// Use the constructors; the zero value is not a valid scope.
type Scope struct {
	Kind        ScopeKind
	PrincipalID uuid.UUID
	OrderID     string
}

func Direct(principalID uuid.UUID) Scope {
	return Scope{Kind: ScopeDirect, PrincipalID: principalID}
}

func Order(orderID string) Scope {
	return Scope{Kind: ScopeOrder, OrderID: orderID}
}

func AdminBroadcast() Scope {
	return Scope{Kind: ScopeAdminBroadcast}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeDirect:
		if s.PrincipalID == uuid.Nil {
			return fmt.Errorf("%w: direct scope needs a principal id", ErrInvalidScope)
		}
	case ScopeOrder:
		if strings.TrimSpace(s.OrderID) == "" {
			return fmt.Errorf("%w: order scope needs an order id", ErrInvalidScope)
		}
	case ScopeAdminBroadcast:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidScope, s.Kind)
	}
	return nil
}

// Key is a stable map key for the scope. It is never parsed back for
// routing decisions; ParseScope is the only way in.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeDirect:
		return "direct:" + s.PrincipalID.String()
	case ScopeOrder:
		return "order:" + s.OrderID
	case ScopeAdminBroadcast:
		return "admin"
	default:
		return ""
	}
}

func (s Scope) String() string {
	return s.Key()
}

// ParseScope reads the compact query-string form used by the REST API:
// "order:42", "direct:<uuid>" or "admin".
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == "admin" {
		return AdminBroadcast(), nil
	}
	kind, id, ok := strings.Cut(raw, ":")
	if !ok {
		return Scope{}, fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
	return scopeFrom(kind, id)
}

func scopeFrom(kind, id string) (Scope, error) {
	var s Scope
	switch kind {
	case "direct":
		pid, err := uuid.Parse(id)
		if err != nil {
			return Scope{}, fmt.Errorf("%w: bad principal id: %v", ErrInvalidScope, err)
		}
		s = Direct(pid)
	case "order":
		s = Order(strings.TrimSpace(id))
	case "admin":
		s = AdminBroadcast()
	default:
		return Scope{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, kind)
	}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// scopeWire is the JSON shape on the websocket:
// {"kind":"order","id":"42"}, {"kind":"direct","id":"<uuid>"}, {"kind":"admin"}.
type scopeWire struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	w := scopeWire{Kind: s.Kind.String()}
	switch s.Kind {
	case ScopeDirect:
		w.ID = s.PrincipalID.String()
	case ScopeOrder:
		w.ID = s.OrderID
	}
	return codec.Marshal(w)
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var w scopeWire
	if err := codec.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}
	parsed, err := scopeFrom(w.Kind, w.ID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
