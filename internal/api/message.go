package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/chat"
	"github.com/lalith-99/pressroom/internal/middleware"
	"github.com/lalith-99/pressroom/internal/models"
	"go.uber.org/zap"
)

// MessageHandler serves chat history and read state. Sending goes through
// the websocket.
type MessageHandler struct {
	chat   *chat.Service
	logger *zap.Logger
}

func NewMessageHandler(chatSvc *chat.Service, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{chat: chatSvc, logger: logger}
}

// List handles GET /v1/chat/messages?scope=order:42&before=123&limit=50
//
// Cursor-based pagination:
//   - "before" = message ID. "Give me messages older than this." 0 = start from latest.
//   - "limit"  = how many to return. Default 50, capped at 100.
func (h *MessageHandler) List(c *gin.Context) {
	scope, err := models.ParseScope(c.Query("scope"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'scope' parameter"})
		return
	}

	var before int64
	if b := c.Query("before"); b != "" {
		before, err = strconv.ParseInt(b, 10, 64)
		if err != nil || before < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' parameter"})
			return
		}
	}

	limit := chat.DefaultPageLimit
	if l := c.Query("limit"); l != "" {
		limit, err = strconv.Atoi(l)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit' parameter"})
			return
		}
	}

	messages, err := h.chat.History(c.Request.Context(), middleware.GetPrincipal(c), scope, before, limit)
	if err != nil {
		respondError(c, h.logger, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

type markReadRequest struct {
	Scope string `json:"scope" binding:"required"`
}

// MarkRead handles POST /v1/chat/read
func (h *MessageHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'scope'"})
		return
	}

	n, err := h.chat.MarkMessagesRead(c.Request.Context(), middleware.GetPrincipal(c), scope)
	if err != nil {
		respondError(c, h.logger, "mark messages read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// UnreadCount handles GET /v1/chat/unread-count
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	n, err := h.chat.UnreadCount(c.Request.Context(), middleware.GetPrincipal(c))
	if err != nil {
		respondError(c, h.logger, "count unread messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}
