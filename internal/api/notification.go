package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/pressroom/internal/middleware"
	"github.com/lalith-99/pressroom/internal/notify"
	"go.uber.org/zap"
)

// NotificationHandler exposes the caller's own notifications. Every
// operation is scoped to the authenticated principal; ids belonging to
// someone else answer 404.
type NotificationHandler struct {
	dispatcher *notify.Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(d *notify.Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{dispatcher: d, logger: logger}
}

// List handles GET /v1/notifications?page=1&limit=20&unread_only=true
func (h *NotificationHandler) List(c *gin.Context) {
	page, err := intQuery(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'page' parameter"})
		return
	}
	limit, err := intQuery(c, "limit", notify.DefaultPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread_only"))

	listing, err := h.dispatcher.List(c.Request.Context(), middleware.GetPrincipal(c),
		notify.Page{Page: page, Limit: limit}, unreadOnly)
	if err != nil {
		respondError(c, h.logger, "list notifications", err)
		return
	}
	c.JSON(http.StatusOK, listing)
}

// UnreadCount handles GET /v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	n, err := h.dispatcher.UnreadCount(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, h.logger, "count unread notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

// MarkRead handles PATCH /v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	n, err := h.dispatcher.MarkRead(c.Request.Context(), id, middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, h.logger, "mark notification read", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

// MarkAllRead handles PATCH /v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.dispatcher.MarkAllRead(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, h.logger, "mark all notifications read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// Delete handles DELETE /v1/notifications/:id
func (h *NotificationHandler) Delete(c *gin.Context) {
	id, ok := notificationID(c)
	if !ok {
		return
	}
	if err := h.dispatcher.Delete(c.Request.Context(), id, middleware.GetPrincipal(c)); err != nil {
		respondError(c, h.logger, "delete notification", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func notificationID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification id"})
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
