package access

import (
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/solver"
	"bitwise74/captcha-gateway/validators"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AccessCheck runs the gate for a visitor and, when allowed, reports the
// balance left on the solver account
func AccessCheck(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	visitorID := c.Query("visitorId")
	if err := validators.VisitorIDValidator(visitorID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	c.Set("visitorID", visitorID)

	decision, err := d.Gate.Evaluate(c.Request.Context(), visitorID, c.Query("app"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to evaluate access", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if !decision.Allowed {
		zap.L().Debug("Access denied", zap.String("reason", string(decision.Reason)), zap.String("requestID", requestID))
		c.JSON(decision.Status, decision.Payload())
		return
	}

	balance, err := d.Solver.Balance(c.Request.Context(), decision.UpstreamKey)
	if err != nil {
		if errors.Is(err, solver.ErrTransport) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "Failed to connect to external service",
				"requestID": requestID,
			})

			zap.L().Error("Solver balance call failed", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to fetch balance", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if !balance.OK() {
		msg := balance.Error
		if msg == "" {
			msg = "Failed to fetch balance"
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error": msg,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"balance": balance.Balance,
		"plan":    balance.Plan,
		"status":  "active",
	})
}
