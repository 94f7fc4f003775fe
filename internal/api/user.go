package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/middleware"
	"github.com/lalith-99/pressroom/internal/presence"
	"github.com/lalith-99/pressroom/internal/repository"
	"go.uber.org/zap"
)

// UserHandler handles user-related operations.
type UserHandler struct {
	repo     repository.UserRepository
	presence *presence.Registry
	logger   *zap.Logger
}

func NewUserHandler(repo repository.UserRepository, reg *presence.Registry, logger *zap.Logger) *UserHandler {
	return &UserHandler{repo: repo, presence: reg, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Returns the authenticated user's profile plus whether any websocket of
// theirs is currently connected to this node.
func (h *UserHandler) GetMe(c *gin.Context) {
	p := middleware.GetPrincipal(c)

	user, err := h.repo.GetByID(c.Request.Context(), p.ID)
	if err != nil {
		h.logger.Error("failed to get user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	// The middleware already checked the row exists; it can only vanish
	// in between.
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":   user,
		"online": h.presence.IsOnline(p.ID),
	})
}
