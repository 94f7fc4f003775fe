package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/auth"
	"github.com/lalith-99/pressroom/internal/chat"
	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/notify"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository"
	"github.com/lalith-99/pressroom/internal/repository/memory"
	"github.com/lalith-99/pressroom/internal/repository/mocks"
	"github.com/lalith-99/pressroom/internal/router"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Duration
}

func (m *memRevocations) Revoke(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[token] = ttl
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[token]
	return ok, nil
}

type server struct {
	store       *memory.Store
	presence    *presence.Registry
	issuer      *auth.TokenIssuer
	revocations *memRevocations
	engine      *gin.Engine
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	reg := presence.NewRegistry()
	local := router.NewLocal(reg, zap.NewNop())
	issuer := auth.NewTokenIssuer("api-test-secret", time.Hour)
	revs := &memRevocations{revoked: map[string]time.Duration{}}
	dispatcher := notify.NewDispatcher(store.Notifications(), store, local, reg, zap.NewNop())
	chatSvc := chat.NewService(store, store, local, reg, zap.NewNop())

	engine := gin.New()
	Register(engine, auth.NewAuthenticator(issuer, revs, store), Handlers{
		Auth:          NewAuthHandler(store, issuer, revs, zap.NewNop()),
		Users:         NewUserHandler(store, reg, zap.NewNop()),
		Messages:      NewMessageHandler(chatSvc, zap.NewNop()),
		Notifications: NewNotificationHandler(dispatcher, zap.NewNop()),
		Admin:         NewAdminHandler(dispatcher, reg, 30, zap.NewNop()),
	})

	return &server{store: store, presence: reg, issuer: issuer, revocations: revs, engine: engine}
}

func (s *server) user(t *testing.T, role models.Role) (models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	u := models.User{
		ID:           uuid.New(),
		Email:        uuid.NewString()[:8] + "@example.com",
		Name:         string(role),
		Role:         role,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	s.store.PutUser(u)
	token, err := s.issuer.GenerateToken(u.Principal())
	require.NoError(t, err)
	return u, token
}

func (s *server) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		raw, err := codec.Marshal(body)
		require.NoError(t, err)
		buf.Write(raw)
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, r)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, codec.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuthEndpoints(t *testing.T) {
	t.Run("should log in with valid credentials", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		u, _ := s.user(t, models.RoleClient)

		w := s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": u.Email, "password": "hunter22"})
		req.Equal(http.StatusOK, w.Code)

		resp := decodeBody[authResponse](t, w)
		req.NotEmpty(resp.Token)
		req.Equal(u.ID, resp.User.ID)
		req.Equal(models.RoleClient, resp.User.Role)
	})

	t.Run("should refuse a wrong password and a disabled account alike", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		u, _ := s.user(t, models.RoleClient)

		w := s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": u.Email, "password": "nope"})
		req.Equal(http.StatusUnauthorized, w.Code)

		u.IsActive = false
		s.store.PutUser(u)
		w = s.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"email": u.Email, "password": "hunter22"})
		req.Equal(http.StatusUnauthorized, w.Code)
	})

	t.Run("should reject the token after logout", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, token := s.user(t, models.RoleClient)

		req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/v1/users/me", token, nil).Code)
		req.Equal(http.StatusOK, s.do(t, http.MethodPost, "/v1/auth/logout", token, nil).Code)

		req.Contains(s.revocations.revoked, token)
		req.Positive(s.revocations.revoked[token])

		w := s.do(t, http.MethodGet, "/v1/users/me", token, nil)
		req.Equal(http.StatusUnauthorized, w.Code)
		req.Equal("auth_error", decodeBody[gin.H](t, w)["code"])
	})

	t.Run("should refuse requests without a bearer token", func(t *testing.T) {
		s := newServer(t)
		require.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/v1/notifications", "", nil).Code)
	})
}

func TestUserEndpoints(t *testing.T) {
	req := require.New(t)
	s := newServer(t)
	u, token := s.user(t, models.RoleClient)

	body := decodeBody[struct {
		User   models.User `json:"user"`
		Online bool        `json:"online"`
	}](t, s.do(t, http.MethodGet, "/v1/users/me", token, nil))
	req.Equal(u.ID, body.User.ID)
	req.False(body.Online)

	s.presence.Register(presence.NewConn(u.Principal(), 4))
	body = decodeBody[struct {
		User   models.User `json:"user"`
		Online bool        `json:"online"`
	}](t, s.do(t, http.MethodGet, "/v1/users/me", token, nil))
	req.True(body.Online)
}

func TestChatEndpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("should page order history and count unread", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		client, clientToken := s.user(t, models.RoleClient)
		admin, _ := s.user(t, models.RoleAdmin)
		s.store.PutOrder("42", client.ID)

		orderID := "42"
		for i := 0; i < 3; i++ {
			_, err := s.store.Create(ctx, repository.NewMessage{
				OrderID: &orderID, SenderID: admin.ID, SenderRole: models.RoleAdmin, Body: "update",
			})
			req.NoError(err)
		}

		w := s.do(t, http.MethodGet, "/v1/chat/messages?scope=order:42&limit=2", clientToken, nil)
		req.Equal(http.StatusOK, w.Code)
		page := decodeBody[[]models.Message](t, w)
		req.Len(page, 2)
		req.Greater(page[0].ID, page[1].ID)

		unread := decodeBody[gin.H](t, s.do(t, http.MethodGet, "/v1/chat/unread-count", clientToken, nil))
		req.EqualValues(3, unread["count"])

		w = s.do(t, http.MethodPost, "/v1/chat/read", clientToken, gin.H{"scope": "order:42"})
		req.Equal(http.StatusOK, w.Code)
		req.EqualValues(3, decodeBody[gin.H](t, w)["updated"])

		unread = decodeBody[gin.H](t, s.do(t, http.MethodGet, "/v1/chat/unread-count", clientToken, nil))
		req.EqualValues(0, unread["count"])
	})

	t.Run("should answer 404 for an order the client does not own", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		other, _ := s.user(t, models.RoleClient)
		_, token := s.user(t, models.RoleClient)
		s.store.PutOrder("7", other.ID)

		w := s.do(t, http.MethodGet, "/v1/chat/messages?scope=order:7", token, nil)
		req.Equal(http.StatusNotFound, w.Code)
		req.Equal("not_found", decodeBody[gin.H](t, w)["code"])
	})

	t.Run("should reject malformed query parameters", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, token := s.user(t, models.RoleClient)

		req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/chat/messages?scope=shelf:1", token, nil).Code)
		req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/chat/messages?scope=admin&before=x", token, nil).Code)
		req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/v1/chat/messages?scope=admin&limit=0", token, nil).Code)
	})
}

func TestNotificationEndpoints(t *testing.T) {
	t.Run("should list, mark and delete only the caller's notifications", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		u, token := s.user(t, models.RoleClient)
		other, otherToken := s.user(t, models.RoleClient)

		mine := s.store.CreateNotification(models.Notification{RecipientID: u.ID, Title: "a", Body: "b", Kind: models.KindInfo})
		s.store.CreateNotification(models.Notification{RecipientID: u.ID, Title: "c", Body: "d", Kind: models.KindInfo})
		s.store.CreateNotification(models.Notification{RecipientID: other.ID, Title: "e", Body: "f", Kind: models.KindInfo})

		listing := decodeBody[notify.Listing](t, s.do(t, http.MethodGet, "/v1/notifications?limit=1", token, nil))
		req.Len(listing.Items, 1)
		req.EqualValues(2, listing.Total)
		req.Equal(2, listing.Pages)

		w := s.do(t, http.MethodPatch, "/v1/notifications/"+mine.ID.String()+"/read", otherToken, nil)
		req.Equal(http.StatusNotFound, w.Code)

		w = s.do(t, http.MethodPatch, "/v1/notifications/"+mine.ID.String()+"/read", token, nil)
		req.Equal(http.StatusOK, w.Code)
		req.NotNil(decodeBody[models.Notification](t, w).ReadAt)

		count := decodeBody[gin.H](t, s.do(t, http.MethodGet, "/v1/notifications/unread-count", token, nil))
		req.EqualValues(1, count["count"])

		unread := decodeBody[notify.Listing](t, s.do(t, http.MethodGet, "/v1/notifications?unread_only=true", token, nil))
		req.EqualValues(1, unread.Total)

		w = s.do(t, http.MethodPatch, "/v1/notifications/read-all", token, nil)
		req.Equal(http.StatusOK, w.Code)
		req.EqualValues(1, decodeBody[gin.H](t, w)["updated"])

		req.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/notifications/"+mine.ID.String(), otherToken, nil).Code)
		req.Equal(http.StatusNoContent, s.do(t, http.MethodDelete, "/v1/notifications/"+mine.ID.String(), token, nil).Code)
		req.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/v1/notifications/"+mine.ID.String(), token, nil).Code)
	})

	t.Run("should hide store failures behind a 500", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockNotificationRepository(ctrl)
		store.EXPECT().
			CountUnread(gomock.Any(), gomock.Any()).
			Return(int64(0), errors.New("pq: connection reset by peer")).
			Times(1)

		reg := presence.NewRegistry()
		users := memory.New()
		h := NewNotificationHandler(
			notify.NewDispatcher(store, users, router.NewLocal(reg, zap.NewNop()), reg, zap.NewNop()),
			zap.NewNop(),
		)
		engine := gin.New()
		engine.GET("/unread", h.UnreadCount)

		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/unread", nil))
		req.Equal(http.StatusInternalServerError, w.Code)

		body := decodeBody[gin.H](t, w)
		req.Equal("store_error", body["code"])
		req.NotContains(body["error"], "connection reset")
	})

	t.Run("should reject a malformed id", func(t *testing.T) {
		s := newServer(t)
		_, token := s.user(t, models.RoleClient)
		require.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/v1/notifications/not-a-uuid/read", token, nil).Code)
	})

	t.Run("should answer 400 for a page beyond the last allowed one", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, token := s.user(t, models.RoleClient)

		w := s.do(t, http.MethodGet, "/v1/notifications?page=4611686018427387904", token, nil)
		req.Equal(http.StatusBadRequest, w.Code)
		req.Equal("validation_error", decodeBody[gin.H](t, w)["code"])
	})
}

func TestAdminEndpoints(t *testing.T) {
	t.Run("should forbid clients", func(t *testing.T) {
		s := newServer(t)
		_, token := s.user(t, models.RoleClient)
		require.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/v1/admin/presence", token, nil).Code)
	})

	t.Run("should send a notification and push it to the online recipient", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, adminToken := s.user(t, models.RoleAdmin)
		client, _ := s.user(t, models.RoleClient)
		conn := presence.NewConn(client.Principal(), 4)
		s.presence.Register(conn)

		w := s.do(t, http.MethodPost, "/v1/admin/notifications", adminToken, gin.H{
			"recipient_id": client.ID, "title": "Bonjour", "body": "Votre devis est prêt.",
		})
		req.Equal(http.StatusCreated, w.Code)
		n := decodeBody[models.Notification](t, w)
		req.Equal(models.KindInfo, n.Kind)

		frame := <-conn.Outbound()
		var ev router.Event
		req.NoError(codec.Unmarshal(frame, &ev))
		req.Equal(router.EventNotificationCreated, ev.Type)
	})

	t.Run("should answer 400 for an invalid notification", func(t *testing.T) {
		s := newServer(t)
		_, adminToken := s.user(t, models.RoleAdmin)
		w := s.do(t, http.MethodPost, "/v1/admin/notifications", adminToken, gin.H{
			"recipient_id": uuid.New(), "title": "", "body": "x",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, "validation_error", decodeBody[gin.H](t, w)["code"])
	})

	t.Run("should notify the client and push order.updated on a status change", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		admin, adminToken := s.user(t, models.RoleAdmin)
		client, _ := s.user(t, models.RoleClient)
		clientConn := presence.NewConn(client.Principal(), 4)
		adminConn := presence.NewConn(admin.Principal(), 4)
		s.presence.Register(clientConn)
		s.presence.Register(adminConn)

		w := s.do(t, http.MethodPost, "/v1/admin/events/order-status", adminToken, gin.H{
			"order_id": "42", "order_number": "CMD-42", "client_id": client.ID, "status": notify.StatusFinished,
		})
		req.Equal(http.StatusAccepted, w.Code)

		var types []string
		for len(clientConn.Outbound()) > 0 {
			var ev router.Event
			req.NoError(codec.Unmarshal(<-clientConn.Outbound(), &ev))
			types = append(types, ev.Type)
		}
		req.Equal([]string{router.EventNotificationCreated, router.EventOrderUpdated}, types)

		var ev router.Event
		req.NoError(codec.Unmarshal(<-adminConn.Outbound(), &ev))
		req.Equal(router.EventOrderUpdated, ev.Type)
		req.Zero(len(adminConn.Outbound()))
	})

	t.Run("should fan new-order and low-stock notices out to every admin", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		_, adminToken := s.user(t, models.RoleAdmin)
		s.user(t, models.RoleAdmin)

		w := s.do(t, http.MethodPost, "/v1/admin/events/new-order", adminToken, gin.H{"order_number": "CMD-1", "client_name": "Atelier Dupont"})
		req.Equal(http.StatusAccepted, w.Code)
		req.EqualValues(2, decodeBody[gin.H](t, w)["notified"])

		w = s.do(t, http.MethodPost, "/v1/admin/events/low-stock", adminToken, gin.H{"item_name": "Papier A3", "current_stock": 4})
		req.Equal(http.StatusAccepted, w.Code)
		req.EqualValues(2, decodeBody[gin.H](t, w)["notified"])
	})

	t.Run("should report presence and purge with the default retention", func(t *testing.T) {
		req := require.New(t)
		s := newServer(t)
		admin, adminToken := s.user(t, models.RoleAdmin)
		s.presence.Register(presence.NewConn(admin.Principal(), 4))

		stats := decodeBody[presence.Stats](t, s.do(t, http.MethodGet, "/v1/admin/presence", adminToken, nil))
		req.Equal(1, stats.Connections)
		req.Equal(1, stats.Admins)

		w := s.do(t, http.MethodPost, "/v1/admin/notifications/purge", adminToken, nil)
		req.Equal(http.StatusOK, w.Code)
		req.EqualValues(30, decodeBody[gin.H](t, w)["older_than_days"])

		w = s.do(t, http.MethodPost, "/v1/admin/notifications/purge", adminToken, gin.H{"older_than_days": 0})
		req.Equal(http.StatusOK, w.Code)
	})
}
