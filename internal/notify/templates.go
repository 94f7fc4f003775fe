package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/router"
	"go.uber.org/zap"
)

// Order statuses as stored by the order service.
const (
	StatusPending    = "en_attente"
	StatusInProgress = "en_cours"
	StatusFinished   = "terminee"
	StatusDelivered  = "livree"
	StatusCancelled  = "annulee"
)

type statusTemplate struct {
	title string
	body  string // %s is the order number
	kind  models.NotificationKind
}

var statusTemplates = map[string]statusTemplate{
	StatusPending: {
		title: "Commande en attente",
		body:  "Votre commande #%s est en attente de validation.",
		kind:  models.KindInfo,
	},
	StatusInProgress: {
		title: "Commande en cours",
		body:  "Votre commande #%s est maintenant en cours de production.",
		kind:  models.KindInfo,
	},
	StatusFinished: {
		title: "Commande terminée",
		body:  "Votre commande #%s est terminée et prête pour la livraison.",
		kind:  models.KindSuccess,
	},
	StatusDelivered: {
		title: "Commande livrée",
		body:  "Votre commande #%s a été livrée avec succès.",
		kind:  models.KindSuccess,
	},
	StatusCancelled: {
		title: "Commande annulée",
		body:  "Votre commande #%s a été annulée.",
		kind:  models.KindWarning,
	},
}

// NotifyOrderStatusChange tells a client their order moved to status.
// Statuses without a template produce no notification and no error.
func (d *Dispatcher) NotifyOrderStatusChange(ctx context.Context, clientID uuid.UUID, orderID, orderNumber, status string) (*models.Notification, error) {
	tpl, ok := statusTemplates[status]
	if !ok {
		d.logger.Debug("no template for order status", zap.String("status", status))
		return nil, nil
	}
	return d.Dispatch(ctx, Request{
		RecipientID:    clientID,
		Title:          tpl.title,
		Body:           fmt.Sprintf(tpl.body, orderNumber),
		Kind:           tpl.kind,
		RelatedOrderID: &orderID,
		ActionURL:      "/orders/" + orderID,
	})
}

// NotifyNewOrder tells every active admin a client placed an order.
func (d *Dispatcher) NotifyNewOrder(ctx context.Context, orderNumber, clientName string) ([]models.Notification, error) {
	return d.toAdmins(ctx, Request{
		Title:     "Nouvelle commande",
		Body:      fmt.Sprintf("Une nouvelle commande #%s a été passée par %s.", orderNumber, clientName),
		Kind:      models.KindInfo,
		ActionURL: "/admin/orders",
	})
}

// NotifyLowStock tells every active admin an inventory item is running out.
func (d *Dispatcher) NotifyLowStock(ctx context.Context, itemName string, currentStock int) ([]models.Notification, error) {
	return d.toAdmins(ctx, Request{
		Title:     "Stock faible",
		Body:      fmt.Sprintf(`Le stock de "%s" est faible (%d unités restantes).`, itemName, currentStock),
		Kind:      models.KindWarning,
		ActionURL: "/admin/inventory",
	})
}

// toAdmins dispatches one copy of req per active admin. A failure for one
// admin does not stop the others; the successfully created copies are
// returned alongside the joined errors.
func (d *Dispatcher) toAdmins(ctx context.Context, req Request) ([]models.Notification, error) {
	admins, err := d.users.ListActiveAdmins(ctx)
	if err != nil {
		return nil, apperr.Store("list admins", err)
	}

	created := make([]models.Notification, 0, len(admins))
	var errs []error
	for _, a := range admins {
		r := req
		r.RecipientID = a.ID
		n, err := d.Dispatch(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("admin %s: %w", a.ID, err))
			continue
		}
		created = append(created, *n)
	}
	return created, errors.Join(errs...)
}

// OrderUpdated pushes order.updated to the order's client and the admin
// group. Nothing is persisted; the order service owns the order row.
//
// Only the owner and admins may join an order room, so those two scopes
// cover every member of Order(orderID) without pushing twice.
func (d *Dispatcher) OrderUpdated(ctx context.Context, orderID string, clientID uuid.UUID, data any) error {
	scope := models.Order(orderID)
	if err := scope.Validate(); err != nil {
		return apperr.Validation("%v", err)
	}
	ev, err := router.NewEvent(router.EventOrderUpdated, &scope, data)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	if clientID != uuid.Nil {
		d.router.Route(ctx, router.Envelope{Event: ev, Scope: models.Direct(clientID)})
	}
	d.router.Route(ctx, router.Envelope{Event: ev, Scope: models.AdminBroadcast()})
	return nil
}
