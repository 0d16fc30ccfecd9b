package handlers

import (
	"github.com/gin-gonic/gin"
)

// HandlerBundle groups the endpoint handlers and the middleware they need.
type HandlerBundle struct {
	// Socket endpoint
	SocketAuth    gin.HandlerFunc
	SocketHandler gin.HandlerFunc

	// Operational endpoints
	HealthHandler  gin.HandlerFunc
	MetricsHandler gin.HandlerFunc
}
