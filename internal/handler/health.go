package handler

import (
	"context"
	"net/http"
	"time"

	"ckd-backend/internal/artifact"

	"github.com/gin-gonic/gin"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db       Pinger
	registry *artifact.Registry
}

func NewHealthHandler(db Pinger, registry *artifact.Registry) *HealthHandler {
	return &HealthHandler{db: db, registry: registry}
}

// GET /ping
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

// Healthz reports database reachability and whether a model is loaded. A
// missing model is not unhealthy: predictions fall back to rules.
// GET /healthz
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		status, code = "database unavailable", http.StatusServiceUnavailable
	}

	resp := gin.H{"status": status, "model_loaded": false, "model_version": ""}
	if m := h.registry.Current(); m != nil {
		resp["model_loaded"] = true
		resp["model_version"] = m.Version
	}
	c.JSON(code, resp)
}
