package presence

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/models"
)

var ErrNotRegistered = errors.New("connection not registered")

// Registry maps principals to their live connections and order rooms to
// the connections that joined them.
//
// It is the only mutable state shared between connection goroutines. All
// indexes are updated under one lock so ConnectionsFor never observes a
// connection that is half registered or half removed.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*Conn
	byPrincipal map[uuid.UUID]map[string]*Conn
	admins      map[string]*Conn
	orders      map[string]map[string]*Conn
	joined      map[string]map[string]struct{} // conn id -> order ids
}

func NewRegistry() *Registry {
	return &Registry{
		conns:       make(map[string]*Conn),
		byPrincipal: make(map[uuid.UUID]map[string]*Conn),
		admins:      make(map[string]*Conn),
		orders:      make(map[string]map[string]*Conn),
		joined:      make(map[string]map[string]struct{}),
	}
}

// Register adds c. Registering the same connection twice is a no-op.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; ok {
		return
	}
	r.conns[c.id] = c

	pid := c.principal.ID
	if r.byPrincipal[pid] == nil {
		r.byPrincipal[pid] = make(map[string]*Conn)
	}
	r.byPrincipal[pid][c.id] = c

	if c.principal.IsAdmin() {
		r.admins[c.id] = c
	}
	metrics.LiveConnections.WithLabelValues(string(c.principal.Role)).Inc()
}

// Unregister removes c and every room membership it had.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; !ok {
		return
	}
	delete(r.conns, c.id)

	pid := c.principal.ID
	if set := r.byPrincipal[pid]; set != nil {
		delete(set, c.id)
		if len(set) == 0 {
			delete(r.byPrincipal, pid)
		}
	}
	delete(r.admins, c.id)

	for orderID := range r.joined[c.id] {
		r.removeFromOrderLocked(orderID, c.id)
	}
	delete(r.joined, c.id)
	metrics.LiveConnections.WithLabelValues(string(c.principal.Role)).Dec()
}

// Join adds an Order scope to c. Direct and admin membership follow from
// identity and cannot be joined. Joining twice is a no-op.
func (r *Registry) Join(c *Conn, scope models.Scope) error {
	if scope.Kind != models.ScopeOrder {
		return apperr.Validation("only order scopes can be joined, got %s", scope.Kind)
	}
	if err := scope.Validate(); err != nil {
		return apperr.Validation("%v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; !ok {
		return fmt.Errorf("join %s: %w", scope, ErrNotRegistered)
	}
	if r.orders[scope.OrderID] == nil {
		r.orders[scope.OrderID] = make(map[string]*Conn)
	}
	r.orders[scope.OrderID][c.id] = c

	if r.joined[c.id] == nil {
		r.joined[c.id] = make(map[string]struct{})
	}
	r.joined[c.id][scope.OrderID] = struct{}{}
	return nil
}

// Leave is the inverse of Join. Leaving a room that was never joined is a
// no-op.
func (r *Registry) Leave(c *Conn, scope models.Scope) error {
	if scope.Kind != models.ScopeOrder {
		return apperr.Validation("only order scopes can be left, got %s", scope.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if set := r.joined[c.id]; set != nil {
		delete(set, scope.OrderID)
		if len(set) == 0 {
			delete(r.joined, c.id)
		}
	}
	r.removeFromOrderLocked(scope.OrderID, c.id)
	return nil
}

func (r *Registry) removeFromOrderLocked(orderID, connID string) {
	set := r.orders[orderID]
	if set == nil {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(r.orders, orderID)
	}
}

// ConnectionsFor resolves a scope to the live connections it addresses:
//
//	Direct(id)      every connection owned by that principal
//	AdminBroadcast  every connection owned by an admin
//	Order(id)       every connection that joined the room, any role
//
// The returned slice is a snapshot; callers may use it without the lock.
func (r *Registry) ConnectionsFor(scope models.Scope) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var set map[string]*Conn
	switch scope.Kind {
	case models.ScopeDirect:
		set = r.byPrincipal[scope.PrincipalID]
	case models.ScopeAdminBroadcast:
		set = r.admins
	case models.ScopeOrder:
		set = r.orders[scope.OrderID]
	default:
		return nil
	}

	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether principalID has at least one live connection.
func (r *Registry) IsOnline(principalID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal[principalID]) > 0
}

// JoinedScopes lists the order rooms c has joined, sorted by order id.
func (r *Registry) JoinedScopes(c *Conn) []models.Scope {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.joined[c.id]))
	for id := range r.joined[c.id] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	scopes := make([]models.Scope, len(ids))
	for i, id := range ids {
		scopes[i] = models.Order(id)
	}
	return scopes
}

// HasJoined reports whether c is in the order room.
func (r *Registry) HasJoined(c *Conn, scope models.Scope) bool {
	if scope.Kind != models.ScopeOrder {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.joined[c.id][scope.OrderID]
	return ok
}

// Stats is the back-office "who is online" summary.
type Stats struct {
	Connections  int `json:"connections"`
	Principals   int `json:"principals"`
	Admins       int `json:"admins"`
	AdminConns   int `json:"admin_connections"`
	ActiveOrders int `json:"active_order_rooms"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	admins := make(map[uuid.UUID]struct{})
	for _, c := range r.admins {
		admins[c.principal.ID] = struct{}{}
	}
	return Stats{
		Connections:  len(r.conns),
		Principals:   len(r.byPrincipal),
		Admins:       len(admins),
		AdminConns:   len(r.admins),
		ActiveOrders: len(r.orders),
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// All returns every registered connection. Used on shutdown.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}
