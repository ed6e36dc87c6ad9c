package handler

import (
	"net/http"

	"ckd-backend/internal/middleware"
	"ckd-backend/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PredictionHandler struct {
	predictionService service.PredictionService
	logger            *zap.Logger
}

func NewPredictionHandler(predictionService service.PredictionService, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{predictionService: predictionService, logger: logger}
}

// Predict runs the decision pipeline on the caller's own record.
// POST /api/predict/
func (h *PredictionHandler) Predict(c *gin.Context) {
	res, err := h.predictionService.PredictForUser(c.Request.Context(), middleware.ActorFrom(c).UserID)
	if err != nil {
		respondError(c, h.logger, err, "Failed to run prediction")
		return
	}
	c.JSON(http.StatusOK, res)
}

// GET /api/model-info/
func (h *PredictionHandler) ModelInfo(c *gin.Context) {
	info, err := h.predictionService.ModelInfo(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "Failed to fetch model info")
		return
	}
	c.JSON(http.StatusOK, info)
}
