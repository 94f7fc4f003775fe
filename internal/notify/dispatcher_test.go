package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/codec"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository/memory"
	"github.com/lalith-99/pressroom/internal/repository/mocks"
	"github.com/lalith-99/pressroom/internal/router"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

type recordingRouter struct {
	mu   sync.Mutex
	sent []router.Envelope
}

func (r *recordingRouter) Route(_ context.Context, env router.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
}

type fixture struct {
	store      *memory.Store
	presence   *presence.Registry
	dispatcher *Dispatcher
}

func newFixture() fixture {
	store := memory.New()
	reg := presence.NewRegistry()
	local := router.NewLocal(reg, zap.NewNop())
	return fixture{
		store:      store,
		presence:   reg,
		dispatcher: NewDispatcher(store.Notifications(), store, local, reg, zap.NewNop()),
	}
}

func (f fixture) connect(role models.Role) (models.Principal, *presence.Conn) {
	p := models.Principal{ID: uuid.New(), Role: role}
	f.store.PutUser(models.User{ID: p.ID, Role: role, IsActive: true})
	c := presence.NewConn(p, 8)
	f.presence.Register(c)
	return p, c
}

func nextEvent(t *testing.T, c *presence.Conn) router.Event {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var ev router.Event
		require.NoError(t, codec.Unmarshal(frame, &ev))
		return ev
	default:
		t.Fatal("no frame queued")
		return router.Event{}
	}
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should persist and push to every connection of the recipient", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		p, phone := f.connect(models.RoleClient)
		laptop := presence.NewConn(p, 8)
		f.presence.Register(laptop)

		n, err := f.dispatcher.Dispatch(ctx, Request{RecipientID: p.ID, Title: "  Hello ", Body: "Proof ready"})
		req.NoError(err)
		req.Equal("Hello", n.Title)
		req.Equal(models.KindInfo, n.Kind)

		for _, c := range []*presence.Conn{phone, laptop} {
			ev := nextEvent(t, c)
			req.Equal(router.EventNotificationCreated, ev.Type)
			var got models.Notification
			req.NoError(codec.Unmarshal(ev.Data, &got))
			req.Equal(n.ID, got.ID)
		}
	})

	t.Run("should keep the record for an offline recipient", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		offline := models.Principal{ID: uuid.New(), Role: models.RoleClient}

		_, err := f.dispatcher.Dispatch(ctx, Request{RecipientID: offline.ID, Title: "t", Body: "b"})
		req.NoError(err)

		count, err := f.dispatcher.UnreadCount(ctx, offline)
		req.NoError(err)
		req.EqualValues(1, count)

		list, err := f.dispatcher.List(ctx, offline, Page{}, false)
		req.NoError(err)
		req.Len(list.Items, 1)
	})

	t.Run("should hand the event to the router even when the recipient is not on this node", func(t *testing.T) {
		req := require.New(t)
		store := memory.New()
		reg := presence.NewRegistry()
		rt := &recordingRouter{}
		d := NewDispatcher(store.Notifications(), store, rt, reg, zap.NewNop())
		remote := uuid.New()
		here := models.Principal{ID: uuid.New(), Role: models.RoleClient}
		reg.Register(presence.NewConn(here, 8))

		offline := metrics.Notifications.WithLabelValues(string(StateLocalOffline))
		online := metrics.Notifications.WithLabelValues(string(StateLocalOnline))
		offlineBefore, onlineBefore := testutil.ToFloat64(offline), testutil.ToFloat64(online)

		_, err := d.Dispatch(ctx, Request{RecipientID: remote, Title: "t", Body: "b"})
		req.NoError(err)
		_, err = d.Dispatch(ctx, Request{RecipientID: here.ID, Title: "t", Body: "b"})
		req.NoError(err)

		req.Equal(offlineBefore+1, testutil.ToFloat64(offline))
		req.Equal(onlineBefore+1, testutil.ToFloat64(online))

		rt.mu.Lock()
		defer rt.mu.Unlock()
		req.Len(rt.sent, 2)
		req.Equal(models.Direct(remote), rt.sent[0].Scope)
	})

	t.Run("should reject invalid requests before touching the store", func(t *testing.T) {
		f := newFixture()
		id := uuid.New()
		cases := map[string]Request{
			"no recipient": {Title: "t", Body: "b"},
			"blank title":  {RecipientID: id, Title: "   ", Body: "b"},
			"long title":   {RecipientID: id, Title: strings.Repeat("é", 201), Body: "b"},
			"long body":    {RecipientID: id, Title: "t", Body: strings.Repeat("x", 1001)},
			"unknown kind": {RecipientID: id, Title: "t", Body: "b", Kind: "urgent"},
		}
		for name, in := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := f.dispatcher.Dispatch(ctx, in)
				require.ErrorIs(t, err, apperr.ErrValidation)
			})
		}
		count, err := f.dispatcher.UnreadCount(ctx, models.Principal{ID: id})
		require.NoError(t, err)
		require.Zero(t, count)
	})

	t.Run("should not push when the store fails", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockNotificationRepository(ctrl)
		store.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")).Times(1)
		rt := &recordingRouter{}

		d := NewDispatcher(store, mocks.NewMockUserRepository(ctrl), rt, presence.NewRegistry(), zap.NewNop())
		_, err := d.Dispatch(ctx, Request{RecipientID: uuid.New(), Title: "t", Body: "b"})

		req.ErrorIs(err, apperr.ErrStore)
		req.Empty(rt.sent)
	})
}

func TestNotificationReads(t *testing.T) {
	ctx := context.Background()

	t.Run("should mark read idempotently and keep the first read time", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		p := models.Principal{ID: uuid.New(), Role: models.RoleClient}
		n, err := f.dispatcher.Dispatch(ctx, Request{RecipientID: p.ID, Title: "t", Body: "b"})
		req.NoError(err)

		first, err := f.dispatcher.MarkRead(ctx, n.ID, p)
		req.NoError(err)
		req.NotNil(first.ReadAt)

		second, err := f.dispatcher.MarkRead(ctx, n.ID, p)
		req.NoError(err)
		req.Equal(*first.ReadAt, *second.ReadAt)

		count, err := f.dispatcher.UnreadCount(ctx, p)
		req.NoError(err)
		req.Zero(count)
	})

	t.Run("should hide another recipient's notification", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		owner := models.Principal{ID: uuid.New(), Role: models.RoleClient}
		stranger := models.Principal{ID: uuid.New(), Role: models.RoleAdmin}
		n, err := f.dispatcher.Dispatch(ctx, Request{RecipientID: owner.ID, Title: "t", Body: "b"})
		req.NoError(err)

		_, err = f.dispatcher.MarkRead(ctx, n.ID, stranger)
		req.ErrorIs(err, apperr.ErrNotFound)
		req.ErrorIs(f.dispatcher.Delete(ctx, n.ID, stranger), apperr.ErrNotFound)

		req.NoError(f.dispatcher.Delete(ctx, n.ID, owner))
		req.ErrorIs(f.dispatcher.Delete(ctx, n.ID, owner), apperr.ErrNotFound)
	})

	t.Run("should paginate and filter unread", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		p := models.Principal{ID: uuid.New(), Role: models.RoleClient}
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			f.store.CreateNotification(models.Notification{
				RecipientID: p.ID, Title: "t", Body: "b", Kind: models.KindInfo,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			})
		}
		read := base
		f.store.CreateNotification(models.Notification{
			RecipientID: p.ID, Title: "old", Body: "b", Kind: models.KindInfo,
			CreatedAt: base.Add(-time.Hour), ReadAt: &read,
		})

		page, err := f.dispatcher.List(ctx, p, Page{Page: 2, Limit: 2}, false)
		req.NoError(err)
		req.EqualValues(6, page.Total)
		req.Equal(3, page.Pages)
		req.Len(page.Items, 2)
		req.Equal(base.Add(2*time.Minute), page.Items[0].CreatedAt)

		unread, err := f.dispatcher.List(ctx, p, Page{Limit: 500}, true)
		req.NoError(err)
		req.EqualValues(5, unread.Total)
		req.Equal(MaxPageSize, unread.Limit)

		marked, err := f.dispatcher.MarkAllRead(ctx, p)
		req.NoError(err)
		req.EqualValues(5, marked)
	})

	t.Run("should reject pages past the last allowed one", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		p := models.Principal{ID: uuid.New(), Role: models.RoleClient}

		_, err := f.dispatcher.List(ctx, p, Page{Page: 1 << 62, Limit: 20}, false)
		req.ErrorIs(err, apperr.ErrValidation)

		_, err = f.dispatcher.List(ctx, p, Page{Page: MaxPage + 1, Limit: MaxPageSize}, false)
		req.ErrorIs(err, apperr.ErrValidation)

		last, err := f.dispatcher.List(ctx, p, Page{Page: MaxPage, Limit: MaxPageSize}, false)
		req.NoError(err)
		req.Empty(last.Items)
	})

	t.Run("should purge only old read notifications", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		now := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
		f.dispatcher.clock = func() time.Time { return now }
		p := uuid.New()
		readAt := now.AddDate(0, 0, -40)
		old := now.AddDate(0, 0, -45)

		f.store.CreateNotification(models.Notification{RecipientID: p, Title: "a", Body: "b", CreatedAt: old, ReadAt: &readAt})
		f.store.CreateNotification(models.Notification{RecipientID: p, Title: "unread", Body: "b", CreatedAt: old})
		f.store.CreateNotification(models.Notification{RecipientID: p, Title: "recent", Body: "b", CreatedAt: now.AddDate(0, 0, -2), ReadAt: &readAt})

		n, err := f.dispatcher.PurgeRead(ctx, 30)
		req.NoError(err)
		req.EqualValues(1, n)

		_, err = f.dispatcher.PurgeRead(ctx, 0)
		req.ErrorIs(err, apperr.ErrValidation)
	})
}

func TestTemplates(t *testing.T) {
	ctx := context.Background()

	t.Run("should render the order status template", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		client := uuid.New()

		n, err := f.dispatcher.NotifyOrderStatusChange(ctx, client, "42", "CMD-0042", StatusFinished)
		req.NoError(err)
		req.Equal("Commande terminée", n.Title)
		req.Contains(n.Body, "#CMD-0042")
		req.Equal(models.KindSuccess, n.Kind)
		req.Equal("42", *n.RelatedOrderID)
		req.Equal("/orders/42", n.ActionURL)
	})

	t.Run("should skip statuses without a template", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		n, err := f.dispatcher.NotifyOrderStatusChange(ctx, uuid.New(), "42", "CMD-0042", "archived")
		req.NoError(err)
		req.Nil(n)
	})

	t.Run("should fan out new orders and low stock to active admins", func(t *testing.T) {
		req := require.New(t)
		f := newFixture()
		_, adminConn := f.connect(models.RoleAdmin)
		f.connect(models.RoleAdmin)
		f.store.PutUser(models.User{ID: uuid.New(), Role: models.RoleAdmin, IsActive: false})
		f.connect(models.RoleClient)

		created, err := f.dispatcher.NotifyNewOrder(ctx, "CMD-7", "Atelier Dupont")
		req.NoError(err)
		req.Len(created, 2)
		req.Contains(created[0].Body, "Atelier Dupont")

		low, err := f.dispatcher.NotifyLowStock(ctx, "Papier A3", 4)
		req.NoError(err)
		req.Len(low, 2)
		req.Equal(models.KindWarning, low[0].Kind)
		req.Contains(low[0].Body, `"Papier A3"`)

		req.Equal(router.EventNotificationCreated, nextEvent(t, adminConn).Type)
	})

	t.Run("should push order updates to the client and the admin group", func(t *testing.T) {
		req := require.New(t)
		rt := &recordingRouter{}
		store := memory.New()
		d := NewDispatcher(store.Notifications(), store, rt, presence.NewRegistry(), zap.NewNop())
		client := uuid.New()

		req.NoError(d.OrderUpdated(ctx, "42", client, map[string]string{"status": StatusDelivered}))
		req.Len(rt.sent, 2)
		req.Equal(models.Direct(client), rt.sent[0].Scope)
		req.Equal(models.AdminBroadcast(), rt.sent[1].Scope)
		req.Equal(models.Order("42"), *rt.sent[0].Event.Scope)

		req.ErrorIs(d.OrderUpdated(ctx, " ", client, nil), apperr.ErrValidation)
	})
}
