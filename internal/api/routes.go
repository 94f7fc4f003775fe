package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/middleware"
)

// Handlers groups everything Register mounts.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Messages      *MessageHandler
	Notifications *NotificationHandler
	Admin         *AdminHandler
}

// Register mounts the authenticated /v1 routes. Health, metrics and the
// websocket endpoint are public and mounted by the caller.
func Register(r gin.IRouter, resolver middleware.Resolver, h Handlers) {
	r.POST("/v1/auth/login", h.Auth.Login)

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(resolver))

	v1.POST("/auth/logout", h.Auth.Logout)
	v1.GET("/users/me", h.Users.GetMe)

	v1.GET("/chat/messages", h.Messages.List)
	v1.POST("/chat/read", h.Messages.MarkRead)
	v1.GET("/chat/unread-count", h.Messages.UnreadCount)

	v1.GET("/notifications", h.Notifications.List)
	v1.GET("/notifications/unread-count", h.Notifications.UnreadCount)
	v1.PATCH("/notifications/read-all", h.Notifications.MarkAllRead)
	v1.PATCH("/notifications/:id/read", h.Notifications.MarkRead)
	v1.DELETE("/notifications/:id", h.Notifications.Delete)

	admin := v1.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/presence", h.Admin.Presence)
	admin.POST("/notifications", h.Admin.SendNotification)
	admin.POST("/notifications/purge", h.Admin.PurgeRead)
	admin.POST("/events/order-status", h.Admin.OrderStatusChanged)
	admin.POST("/events/new-order", h.Admin.NewOrder)
	admin.POST("/events/low-stock", h.Admin.LowStock)
}
