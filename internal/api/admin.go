package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/notify"
	"github.com/lalith-99/pressroom/internal/presence"
	"go.uber.org/zap"
)

// AdminHandler is the back-office surface: sending notifications by hand,
// the hooks the order and inventory services call, and a presence view.
// Routes are mounted behind RequireAdmin.
type AdminHandler struct {
	dispatcher *notify.Dispatcher
	presence   *presence.Registry
	retention  int
	logger     *zap.Logger
}

func NewAdminHandler(d *notify.Dispatcher, reg *presence.Registry, retentionDays int, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{dispatcher: d, presence: reg, retention: retentionDays, logger: logger}
}

// SendNotification handles POST /v1/admin/notifications
func (h *AdminHandler) SendNotification(c *gin.Context) {
	var req notify.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.dispatcher.Dispatch(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "send notification", err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// Presence handles GET /v1/admin/presence
func (h *AdminHandler) Presence(c *gin.Context) {
	c.JSON(http.StatusOK, h.presence.Stats())
}

type purgeRequest struct {
	OlderThanDays int `json:"older_than_days" binding:"omitempty,min=1"`
}

// PurgeRead handles POST /v1/admin/notifications/purge
//
// Without a body the configured retention is used.
func (h *AdminHandler) PurgeRead(c *gin.Context) {
	var req purgeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	days := req.OlderThanDays
	if days == 0 {
		days = h.retention
	}

	n, err := h.dispatcher.PurgeRead(c.Request.Context(), days)
	if err != nil {
		respondError(c, h.logger, "purge notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n, "older_than_days": days})
}

type orderStatusRequest struct {
	OrderID     string    `json:"order_id" binding:"required,max=64"`
	OrderNumber string    `json:"order_number" binding:"required"`
	ClientID    uuid.UUID `json:"client_id" binding:"required"`
	Status      string    `json:"status" binding:"required"`
}

// OrderStatusChanged handles POST /v1/admin/events/order-status
//
// Called by the order service after a status transition. The client gets a
// notification (if the status has a template) and both the client and the
// admin group get order.updated.
func (h *AdminHandler) OrderStatusChanged(c *gin.Context) {
	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	n, err := h.dispatcher.NotifyOrderStatusChange(ctx, req.ClientID, req.OrderID, req.OrderNumber, req.Status)
	if err != nil {
		respondError(c, h.logger, "notify order status", err)
		return
	}

	update := gin.H{"order_id": req.OrderID, "order_number": req.OrderNumber, "status": req.Status}
	if err := h.dispatcher.OrderUpdated(ctx, req.OrderID, req.ClientID, update); err != nil {
		respondError(c, h.logger, "push order update", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"notification": n})
}

type newOrderRequest struct {
	OrderNumber string `json:"order_number" binding:"required"`
	ClientName  string `json:"client_name" binding:"required"`
}

// NewOrder handles POST /v1/admin/events/new-order
func (h *AdminHandler) NewOrder(c *gin.Context) {
	var req newOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.fanOut(c, "notify new order", func() (int, error) {
		created, err := h.dispatcher.NotifyNewOrder(c.Request.Context(), req.OrderNumber, req.ClientName)
		return len(created), err
	})
}

type lowStockRequest struct {
	ItemName     string `json:"item_name" binding:"required"`
	CurrentStock int    `json:"current_stock" binding:"min=0"`
}

// LowStock handles POST /v1/admin/events/low-stock
func (h *AdminHandler) LowStock(c *gin.Context) {
	var req lowStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.fanOut(c, "notify low stock", func() (int, error) {
		created, err := h.dispatcher.NotifyLowStock(c.Request.Context(), req.ItemName, req.CurrentStock)
		return len(created), err
	})
}

// fanOut answers 202 with how many admins were notified. Partial failures
// are logged; the copies that made it are not rolled back.
func (h *AdminHandler) fanOut(c *gin.Context, op string, send func() (int, error)) {
	n, err := send()
	if err != nil && n == 0 {
		respondError(c, h.logger, op, err)
		return
	}
	if err != nil {
		h.logger.Warn(op+" partially failed", zap.Int("notified", n), zap.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"notified": n})
}
