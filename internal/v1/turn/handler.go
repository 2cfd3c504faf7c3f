package turn

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the ice-config endpoint.
type Handler struct {
	issuer *Issuer
}

// NewHandler creates a new ice-config handler backed by the given issuer.
func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// IceConfig handles GET /api/ice-config.
// Pure modulo time; cannot fail once the secret passed startup validation.
func (h *Handler) IceConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.issuer.Config())
}
