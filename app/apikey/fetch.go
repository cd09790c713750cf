package apikey

import (
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/store"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIKeyFetch returns the oldest key in the pool. Admin only
func APIKeyFetch(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	key, err := d.Keys.First(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":  "No API key found",
				"status": "not_found",
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch API key", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"apiKey": key.Key,
		"status": "success",
	})
}
