package handlers

import (
	"net/http"

	"medicall/utils"

	"github.com/gin-gonic/gin"
)

// SessionCounter reports live socket sessions.
type SessionCounter interface {
	SessionCount() int
}

// HealthHandler serves GET /health from the background health monitor's
// last snapshot.
func HealthHandler(sessions SessionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := utils.GetHealthStatus()
		code := http.StatusOK
		state := "ok"
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
			state = "degraded"
		}
		c.JSON(code, gin.H{
			"status":       state,
			"dependencies": status,
			"sessions":     sessions.SessionCount(),
		})
	}
}
