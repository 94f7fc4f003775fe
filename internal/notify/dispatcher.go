// Package notify records notifications and pushes them to whoever is
// online.
//
// A notification is written to the store before any push is attempted.
// If the write fails nothing is pushed and the caller gets a store error.
// If nobody is connected the notification simply waits in the store until
// the recipient lists it.
package notify

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/metrics"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository"
	"github.com/lalith-99/pressroom/internal/router"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage bounds the offset a listing can ask the store for.
	MaxPage = 10000
)

// Request is the input of Dispatch.
type Request struct {
	RecipientID    uuid.UUID               `json:"recipient_id" validate:"required"`
	Title          string                  `json:"title" validate:"required,max=200"`
	Body           string                  `json:"body" validate:"required,max=1000"`
	Kind           models.NotificationKind `json:"kind" validate:"omitempty,oneof=info success warning error"`
	RelatedOrderID *string                 `json:"related_order_id,omitempty" validate:"omitempty,max=64"`
	ActionURL      string                  `json:"action_url,omitempty" validate:"omitempty,max=512"`
}

// State labels a dispatched notification by what this node saw. The
// router is always handed the event, so with the Redis bus a recipient
// connected to another node still gets it and counts as local_offline.
type State string

const (
	StateLocalOnline  State = "local_online"
	StateLocalOffline State = "local_offline"
	// StateUnpushed means the event could not be built; only the stored
	// record remains.
	StateUnpushed State = "unpushed"
)

type Dispatcher struct {
	store    repository.NotificationRepository
	users    repository.UserRepository
	router   router.Router
	presence *presence.Registry
	validate *validator.Validate
	logger   *zap.Logger
	clock    func() time.Time
}

func NewDispatcher(
	store repository.NotificationRepository,
	users repository.UserRepository,
	rt router.Router,
	reg *presence.Registry,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:    store,
		users:    users,
		router:   rt,
		presence: reg,
		validate: validator.New(),
		logger:   logger,
		clock:    time.Now,
	}
}

// Dispatch persists the notification, then pushes notification.created to
// every connection of the recipient.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*models.Notification, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Body = strings.TrimSpace(req.Body)
	if req.Kind == "" {
		req.Kind = models.KindInfo
	}
	if req.RelatedOrderID != nil && strings.TrimSpace(*req.RelatedOrderID) == "" {
		req.RelatedOrderID = nil
	}
	if req.RecipientID == uuid.Nil {
		return nil, apperr.Validation("recipient_id is required")
	}
	if err := d.validate.Struct(req); err != nil {
		return nil, apperr.Validation("%v", err)
	}

	n, err := d.store.Create(ctx, models.Notification{
		RecipientID:    req.RecipientID,
		Title:          req.Title,
		Body:           req.Body,
		Kind:           req.Kind,
		RelatedOrderID: req.RelatedOrderID,
		ActionURL:      req.ActionURL,
	})
	if err != nil {
		return nil, apperr.Store("create notification", err)
	}

	state := d.push(ctx, n)
	metrics.Notifications.WithLabelValues(string(state)).Inc()
	d.logger.Info("notification dispatched",
		zap.String("notification_id", n.ID.String()),
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("state", string(state)),
	)
	return n, nil
}

func (d *Dispatcher) push(ctx context.Context, n *models.Notification) State {
	scope := models.Direct(n.RecipientID)
	ev, err := router.NewEvent(router.EventNotificationCreated, &scope, n)
	if err != nil {
		d.logger.Error("encode notification event", zap.Error(err))
		return StateUnpushed
	}

	// Presence is only consulted for the state label; the router decides
	// who actually receives the frame.
	online := d.presence.IsOnline(n.RecipientID)
	d.router.Route(ctx, router.Envelope{Event: ev, Scope: scope})
	if online {
		return StateLocalOnline
	}
	return StateLocalOffline
}

// MarkRead marks one notification of p as read. Marking twice is fine;
// the first read time is kept.
func (d *Dispatcher) MarkRead(ctx context.Context, id uuid.UUID, p models.Principal) (*models.Notification, error) {
	n, err := d.store.MarkRead(ctx, id, p.ID)
	if err != nil {
		return nil, apperr.Store("mark notification read", err)
	}
	if n == nil {
		return nil, apperr.NotFound("notification %s", id)
	}
	return n, nil
}

func (d *Dispatcher) MarkAllRead(ctx context.Context, p models.Principal) (int64, error) {
	n, err := d.store.MarkAllRead(ctx, p.ID)
	if err != nil {
		return 0, apperr.Store("mark all notifications read", err)
	}
	return n, nil
}

func (d *Dispatcher) UnreadCount(ctx context.Context, p models.Principal) (int64, error) {
	n, err := d.store.CountUnread(ctx, p.ID)
	if err != nil {
		return 0, apperr.Store("count unread notifications", err)
	}
	return n, nil
}

// Page selects a 1-based page.
type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// Listing is one page of a recipient's notifications.
type Listing struct {
	Items []models.Notification `json:"notifications"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
	Total int64                 `json:"total"`
	Pages int                   `json:"pages"`
}

func (d *Dispatcher) List(ctx context.Context, p models.Principal, page Page, unreadOnly bool) (*Listing, error) {
	if page.Page > MaxPage {
		return nil, apperr.Validation("page must be at most %d", MaxPage)
	}
	page = page.normalize()

	items, total, err := d.store.List(ctx, repository.NotificationQuery{
		RecipientID: p.ID,
		UnreadOnly:  unreadOnly,
		Offset:      (page.Page - 1) * page.Limit,
		Limit:       page.Limit,
	})
	if err != nil {
		return nil, apperr.Store("list notifications", err)
	}
	if items == nil {
		items = []models.Notification{}
	}
	return &Listing{
		Items: items,
		Page:  page.Page,
		Limit: page.Limit,
		Total: total,
		Pages: int(math.Ceil(float64(total) / float64(page.Limit))),
	}, nil
}

func (d *Dispatcher) Delete(ctx context.Context, id uuid.UUID, p models.Principal) error {
	ok, err := d.store.Delete(ctx, id, p.ID)
	if err != nil {
		return apperr.Store("delete notification", err)
	}
	if !ok {
		return apperr.NotFound("notification %s", id)
	}
	return nil
}

// PurgeRead removes read notifications older than the given number of days.
// Unread notifications are never purged.
func (d *Dispatcher) PurgeRead(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, apperr.Validation("retention must be at least one day")
	}
	cutoff := d.clock().AddDate(0, 0, -olderThanDays)
	n, err := d.store.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		return 0, apperr.Store("purge read notifications", err)
	}
	d.logger.Info("purged read notifications", zap.Int64("deleted", n), zap.Time("cutoff", cutoff))
	return n, nil
}
