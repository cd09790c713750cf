package task

import (
	"bitwise74/captcha-gateway/internal"
	"bitwise74/captcha-gateway/internal/model"
	"bitwise74/captcha-gateway/internal/store"
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var listableStatuses = []model.TaskStatus{model.TaskPending, model.TaskCompleted, model.TaskFailed}

// TaskList returns stored tasks newest first. Admin only
func TaskList(c *gin.Context, d *internal.Deps) {
	requestID := c.MustGet("requestID").(string)

	f := store.TaskFilter{Limit: store.DefaultTaskLimit}

	if l := c.Query("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid limit provided",
				"requestID": requestID,
			})
			return
		}

		f.Limit = min(limit, store.MaxTaskLimit)
	}

	if s := model.TaskStatus(c.Query("status")); s != "" {
		if !slices.Contains(listableStatuses, s) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Invalid status provided",
				"requestID": requestID,
			})
			return
		}

		f.Status = s
	}

	tasks, err := d.Tasks.List(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     "Internal server error",
			"requestID": requestID,
		})

		zap.L().Error("Failed to list tasks", zap.Error(err), zap.String("requestID", requestID))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
	})
}
