package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// NotifierHandler handles HTTP requests for the notifier process.
// Health checks and internal monitoring only; the stock mutation surface
// lives in the upstream request layer.
type NotifierHandler struct {
	instanceID string
}

// NewNotifierHandler creates a new notifier API handler
func NewNotifierHandler(instanceID string) *NotifierHandler {
	return &NotifierHandler{instanceID: instanceID}
}

// SetupNotifierRoutes sets up the HTTP routes for the notifier
func (h *NotifierHandler) SetupNotifierRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	r.GET("/health", h.healthCheck)

	return r
}

// healthCheck handles health check requests
func (h *NotifierHandler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "availability-notifier",
		"instance": h.instanceID,
	})
}
