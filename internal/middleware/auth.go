package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/apperr"
	"github.com/lalith-99/pressroom/internal/auth"
	"github.com/lalith-99/pressroom/internal/models"
)

// Context keys for values the auth middleware stores in gin.Context.
const (
	ContextKeyPrincipal = "principal"
	ContextKeyClaims    = "claims"
	ContextKeyToken     = "token"
)

// Resolver turns a bearer token into a principal. *auth.Authenticator
// implements it.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Principal, *auth.Claims, error)
}

// AuthMiddleware rejects requests without a valid, unrevoked token for an
// active account. On success the principal, the claims and the raw token
// are stored in the request context for the handlers.
func AuthMiddleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		// "Bearer eyJhbG..." -> ["Bearer", "eyJhbG..."]
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization format, expected: Bearer <token>",
			})
			return
		}
		token := strings.TrimSpace(parts[1])

		p, claims, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
				"code":  apperr.Code(err),
			})
			return
		}

		c.Set(ContextKeyPrincipal, p)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetPrincipal(c).IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin access required",
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the zero Principal if the middleware did not run.
// The zero value has no role, so it fails every access check.
func GetPrincipal(c *gin.Context) models.Principal {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return models.Principal{}
	}
	p, ok := val.(models.Principal)
	if !ok {
		return models.Principal{}
	}
	return p
}

func GetClaims(c *gin.Context) *auth.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

func GetToken(c *gin.Context) string {
	return c.GetString(ContextKeyToken)
}
