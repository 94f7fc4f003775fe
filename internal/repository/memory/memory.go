// Package memory is an in-process implementation of the repository
// interfaces. It backs the service tests and `--store=memory` local runs;
// nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/repository"
)

// Store satisfies every repository interface over one mutex.
type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]models.User
	orders        map[string]uuid.UUID
	messages      []models.Message
	nextMessageID int64
	notifications map[uuid.UUID]models.Notification
	now           func() time.Time
}

var (
	_ repository.UserRepository    = (*Store)(nil)
	_ repository.OrderDirectory    = (*Store)(nil)
	_ repository.MessageRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:         make(map[uuid.UUID]models.User),
		orders:        make(map[string]uuid.UUID),
		notifications: make(map[uuid.UUID]models.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// PutUser inserts or replaces a user row.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	s.users[u.ID] = u
}

// PutOrder records clientID as the owner of orderID.
func (s *Store) PutOrder(orderID string, clientID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderID] = clientID
}

func (s *Store) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *Store) ListActiveAdmins(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	admins := make([]models.User, 0)
	for _, u := range s.users {
		if u.Role == models.RoleAdmin && u.IsActive {
			admins = append(admins, u)
		}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i].CreatedAt.Before(admins[j].CreatedAt) })
	return admins, nil
}

func (s *Store) OrderOwner(_ context.Context, orderID string) (uuid.UUID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.orders[orderID]
	return owner, ok, nil
}

func (s *Store) OrdersOwnedBy(_ context.Context, clientID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, owner := range s.orders {
		if owner == clientID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Create(_ context.Context, in repository.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessageID++
	msg := models.Message{
		ID:          s.nextMessageID,
		OrderID:     cloneString(in.OrderID),
		SenderID:    in.SenderID,
		SenderRole:  in.SenderRole,
		RecipientID: cloneUUID(in.RecipientID),
		Body:        in.Body,
		CreatedAt:   s.now(),
	}
	s.messages = append(s.messages, msg)
	out := cloneMessage(msg)
	return &out, nil
}

// inScope mirrors the SQL filter used by the postgres store.
func inScope(m models.Message, scope models.Scope) bool {
	switch scope.Kind {
	case models.ScopeOrder:
		return m.OrderID != nil && *m.OrderID == scope.OrderID
	case models.ScopeDirect:
		if m.OrderID != nil {
			return false
		}
		return m.SenderID == scope.PrincipalID || (m.RecipientID != nil && *m.RecipientID == scope.PrincipalID)
	case models.ScopeAdminBroadcast:
		return m.OrderID == nil && m.RecipientID == nil
	default:
		return false
	}
}

func (s *Store) ListByScope(_ context.Context, scope models.Scope, before int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	for i := len(s.messages) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[i]
		if before > 0 && m.ID >= before {
			continue
		}
		if inScope(m, scope) {
			out = append(out, cloneMessage(m))
		}
	}
	return out, nil
}

// Message returns a stored message by id, for tests.
func (s *Store) Message(id int64) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.ID == id {
			return cloneMessage(m), true
		}
	}
	return models.Message{}, false
}

// addressedTo mirrors the postgres store: admins read client messages,
// clients read admin messages and replies addressed to them.
func addressedTo(m models.Message, reader models.Principal) bool {
	if m.SenderID == reader.ID {
		return false
	}
	if reader.IsAdmin() {
		return m.SenderRole == models.RoleClient
	}
	return m.SenderRole == models.RoleAdmin || (m.RecipientID != nil && *m.RecipientID == reader.ID)
}

func (s *Store) MarkScopeRead(_ context.Context, scope models.Scope, reader models.Principal) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.ReadAt != nil || !addressedTo(*m, reader) || !inScope(*m, scope) {
			continue
		}
		at := now
		m.ReadAt = &at
		n++
	}
	return n, nil
}

func (s *Store) CountUnreadFor(_ context.Context, p models.Principal, orderIDs []string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, m := range s.messages {
		if m.ReadAt != nil || m.SenderID == p.ID {
			continue
		}
		if m.OrderID != nil {
			if slices.Contains(orderIDs, *m.OrderID) {
				n++
			}
			continue
		}
		if p.IsAdmin() && m.RecipientID == nil {
			n++
		}
		if !p.IsAdmin() && m.RecipientID != nil && *m.RecipientID == p.ID {
			n++
		}
	}
	return n, nil
}

// CreateNotification stores n as given, filling ID and CreatedAt if unset.
// Tests use it to seed rows with fixed timestamps.
func (s *Store) CreateNotification(n models.Notification) models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	s.notifications[n.ID] = n
	return n
}

// NotificationStore adapts Store to repository.NotificationRepository.
// The method sets collide on Create, so notifications get their own view.
type NotificationStore struct {
	*Store
}

var _ repository.NotificationRepository = NotificationStore{}

func (s *Store) Notifications() NotificationStore {
	return NotificationStore{Store: s}
}

func (v NotificationStore) Create(_ context.Context, n models.Notification) (*models.Notification, error) {
	n.ID = uuid.Nil
	n.CreatedAt = time.Time{}
	n.ReadAt = nil
	created := v.CreateNotification(n)
	return &created, nil
}

func (v NotificationStore) GetForRecipient(_ context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	n, ok := v.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return nil, nil
	}
	return &n, nil
}

func (v NotificationStore) MarkRead(_ context.Context, id uuid.UUID, recipientID uuid.UUID) (*models.Notification, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return nil, nil
	}
	if n.ReadAt == nil {
		at := v.now()
		n.ReadAt = &at
		v.notifications[id] = n
	}
	return &n, nil
}

func (v NotificationStore) MarkAllRead(_ context.Context, recipientID uuid.UUID) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	var count int64
	for id, n := range v.notifications {
		if n.RecipientID == recipientID && n.ReadAt == nil {
			at := now
			n.ReadAt = &at
			v.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (v NotificationStore) CountUnread(_ context.Context, recipientID uuid.UUID) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var count int64
	for _, n := range v.notifications {
		if n.RecipientID == recipientID && n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (v NotificationStore) List(_ context.Context, q repository.NotificationQuery) ([]models.Notification, int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	matched := make([]models.Notification, 0)
	for _, n := range v.notifications {
		if n.RecipientID != q.RecipientID || (q.UnreadOnly && n.ReadAt != nil) {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() > matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	start := min(q.Offset, len(matched))
	end := min(start+q.Limit, len(matched))
	return matched[start:end], total, nil
}

func (v NotificationStore) Delete(_ context.Context, id uuid.UUID, recipientID uuid.UUID) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n, ok := v.notifications[id]
	if !ok || n.RecipientID != recipientID {
		return false, nil
	}
	delete(v.notifications, id)
	return true, nil
}

func (v NotificationStore) DeleteReadBefore(_ context.Context, cutoff time.Time) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var count int64
	for id, n := range v.notifications {
		if n.ReadAt != nil && n.CreatedAt.Before(cutoff) {
			delete(v.notifications, id)
			count++
		}
	}
	return count, nil
}

func cloneMessage(m models.Message) models.Message {
	m.OrderID = cloneString(m.OrderID)
	m.RecipientID = cloneUUID(m.RecipientID)
	if m.ReadAt != nil {
		at := *m.ReadAt
		m.ReadAt = &at
	}
	return m
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
