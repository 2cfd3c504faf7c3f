package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/moli-green/relay/internal/v1/admission"
	"github.com/moli-green/relay/internal/v1/room"
)

// Handler manages health check endpoints
type Handler struct {
	admission *admission.Controller
	registry  *room.Registry
}

// NewHandler creates a new health check handler
func NewHandler(ctrl *admission.Controller, registry *room.Registry) *Handler {
	return &Handler{admission: ctrl, registry: registry}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string           `json:"status"`
	Checks    map[string]int64 `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// The relay has no external dependencies; readiness reports capacity usage
// so orchestrators can observe saturation.
func (h *Handler) Readiness(c *gin.Context) {
	c.JSON(http.StatusOK, ReadinessResponse{
		Status: "ready",
		Checks: map[string]int64{
			"live_sessions": h.admission.LiveSessions(),
			"live_rooms":    int64(h.registry.Len()),
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
