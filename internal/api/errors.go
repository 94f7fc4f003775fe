package api

import (
	"github.com/gin-gonic/gin"
	"github.com/lalith-99/pressroom/internal/apperr"
	"go.uber.org/zap"
)

// respondError writes err as {"error", "code"} with the status apperr maps
// it to. Store and internal failures are logged with the full cause and
// answered with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= 500 {
		logger.Error(op+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error": apperr.Public(err),
		"code":  apperr.Code(err),
	})
}
