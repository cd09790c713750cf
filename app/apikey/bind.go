package apikey

import (
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/service"
	"bitwise74/captcha-gateway/validators"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type bindRequest struct {
	Key       string `json:"key"`
	VisitorID string `json:"visitorId" binding:"required"`
}

// APIKeyBind claims a key from the pool for the calling visitor
func APIKeyBind(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data bindRequest
	if err := c.ShouldBindJSON(&data); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.Error(err)
			return
		}

		body := gin.H{
			"error":     "Invalid request body",
			"requestID": requestID,
		}
		if fields := validators.FieldErrors(err); fields != nil {
			body["fields"] = fields
		}

		c.JSON(http.StatusBadRequest, body)
		return
	}

	if err := validators.KeyValidator(data.Key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  err.Error(),
			"status": "invalid_request",
		})
		return
	}

	if err := validators.VisitorIDValidator(data.VisitorID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  err.Error(),
			"status": "invalid_request",
		})
		return
	}

	c.Set("visitorID", data.VisitorID)

	res, err := d.Binder.Bind(c.Request.Context(), data.Key, data.VisitorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to bind key", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if res.Outcome != service.BindBound {
		c.JSON(res.Outcome.HTTPStatus(), gin.H{
			"status":  res.Outcome,
			"message": res.Outcome.Message(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     res.Outcome,
		"message":    res.Outcome.Message(),
		"apiKey":     res.Key.Key,
		"name":       res.Key.Name,
		"lastUsedAt": res.Key.LastUsedAt,
		"visitorId":  res.Key.VisitorID,
	})
}
