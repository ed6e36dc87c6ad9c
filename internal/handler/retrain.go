package handler

import (
	"net/http"
	"strconv"

	"ckd-backend/internal/middleware"
	"ckd-backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RetrainHandler struct {
	retrainService service.RetrainService
	logger         *zap.Logger
}

func NewRetrainHandler(retrainService service.RetrainService, logger *zap.Logger) *RetrainHandler {
	return &RetrainHandler{retrainService: retrainService, logger: logger}
}

// Retrain fits a new model and blocks until it is active.
// POST /api/retrain/
func (h *RetrainHandler) Retrain(c *gin.Context) {
	res, err := h.retrainService.Retrain(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err, "Retrain failed")
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/retrain/progress
func (h *RetrainHandler) Progress(c *gin.Context) {
	p, err := h.retrainService.Progress(c.Request.Context(), middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to read progress")
		return
	}
	c.JSON(http.StatusOK, p)
}

// GET /api/retrain/current
func (h *RetrainHandler) Current(c *gin.Context) {
	job, err := h.retrainService.CurrentJob(middleware.ActorFrom(c))
	if err != nil {
		respondError(c, h.logger, err, "Failed to read retrain job")
		return
	}
	c.JSON(http.StatusOK, job)
}

// DELETE /api/retrain/current
func (h *RetrainHandler) Cancel(c *gin.Context) {
	if err := h.retrainService.Cancel(middleware.ActorFrom(c)); err != nil {
		respondError(c, h.logger, err, "Failed to cancel retrain")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested"})
}

// GET /api/retrain/logs?limit=N
func (h *RetrainHandler) Logs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	entries, err := h.retrainService.Logs(c.Request.Context(), middleware.ActorFrom(c), limit)
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch retrain logs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
