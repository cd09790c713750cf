// Package root holds endpoints that aren't tied to any resource
package root

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Heartbeat is used by load balancers and the extension to check the server is up
func Heartbeat(c *gin.Context) {
	c.Status(http.StatusOK)
}
