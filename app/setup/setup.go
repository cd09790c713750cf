package setup

import (
	"bitwise74/captcha-gateway/internal"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Setup makes sure the settings row exists and, when configured, creates
// the bootstrap admin. Safe to call any number of times
func Setup(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	settings, created, err := d.Settings.EnsureDefaults(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to ensure settings", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	resp := gin.H{
		"message": "Database initialized successfully",
		"data":    settings,
		"created": created,
	}

	if d.Admin.Email != "" {
		admin, _, err := d.Users.EnsureByEmail(c.Request.Context(), d.Admin.Name, d.Admin.Email, "admin")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "Internal server error",
				"requestID": requestID,
			})

			zap.L().Error("Failed to create admin user", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		resp["admin"] = admin
	}

	c.JSON(http.StatusOK, resp)
}
