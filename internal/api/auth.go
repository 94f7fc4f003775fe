package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/auth"
	"github.com/lalith-99/pressroom/internal/middleware"
	"github.com/lalith-99/pressroom/internal/models"
	"github.com/lalith-99/pressroom/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler issues and revokes access tokens. Accounts themselves are
// created by the account service; this side only reads them.
type AuthHandler struct {
	userRepo    repository.UserRepository
	tokens      *auth.TokenIssuer
	revocations auth.Revocations
	logger      *zap.Logger
}

func NewAuthHandler(
	userRepo repository.UserRepository,
	tokens *auth.TokenIssuer,
	revocations auth.Revocations,
	logger *zap.Logger,
) *AuthHandler {
	if revocations == nil {
		revocations = auth.NoRevocations{}
	}
	return &AuthHandler{
		userRepo:    userRepo,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
	}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	Token string           `json:"token"`
	User  models.Principal `json:"user"`
}

// Login handles POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.userRepo.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		h.logger.Error("failed to find user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	// Same answer for unknown email, wrong password and disabled account,
	// so the endpoint does not reveal which emails exist.
	if user == nil || !user.IsActive {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, err := h.tokens.GenerateToken(user.Principal())
	if err != nil {
		h.logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, authResponse{Token: token, User: user.Principal()})
}

// Logout handles POST /v1/auth/logout
//
// The token is blacklisted until it would have expired. Open websocket
// connections keep their identity; the token cannot open new ones.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.GetToken(c)
	ttl := h.tokens.RemainingTTL(middleware.GetClaims(c))

	if err := h.revocations.Revoke(c.Request.Context(), token, ttl); err != nil {
		h.logger.Error("failed to revoke token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
