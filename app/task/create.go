package task

import (
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/service"
	"bitwise74/captcha-gateway/internal/solver"
	"bitwise74/captcha-gateway/validators"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// The extension sends its visitor id in the apiKey field
type createRequest struct {
	VisitorID string          `json:"apiKey" binding:"required"`
	Task      json.RawMessage `json:"task"`
	Version   string          `json:"version" binding:"max=32"`
	Source    string          `json:"source" binding:"max=64"`
	AppID     string          `json:"appID" binding:"max=64"`
}

// TaskCreate forwards a task to the solver for an allowed visitor and
// relays the reply
func TaskCreate(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	var data createRequest
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

	if err := validators.VisitorIDValidator(data.VisitorID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	if err := validators.TaskValidator(data.Task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     err.Error(),
			"requestID": requestID,
		})
		return
	}

	c.Set("visitorID", data.VisitorID)

	res, err := d.Submitter.Submit(c.Request.Context(), service.Submission{
		VisitorID: data.VisitorID,
		Version:   data.Version,
		Source:    data.Source,
		AppID:     data.AppID,
		Task:      data.Task,
	})
	if err != nil {
		if errors.Is(err, solver.ErrTransport) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":     "Failed to connect to external service",
				"requestID": requestID,
			})

			zap.L().Error("Solver createTask call failed", zap.Error(err), zap.String("requestID", requestID))
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to submit task", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	if res.Denied != nil {
		zap.L().Debug("Task denied", zap.String("reason", string(res.Denied.Reason)), zap.String("requestID", requestID))
		c.JSON(res.Denied.Status, res.Denied.Payload())
		return
	}

	if !res.Reply.OK() {
		msg := res.Reply.Msg
		if msg == "" {
			msg = "Task failed"
		}

		c.JSON(http.StatusBadRequest, gin.H{
			"error":    msg,
			"code":     res.Reply.Code,
			"response": res.Reply.Raw,
		})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", res.Reply.Raw)
}
