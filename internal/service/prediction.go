package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ckd-backend/internal/artifact"
	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/metrics"
	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"go.uber.org/zap"
)

const unknown = "Unknown"

// Sidecars exposes the accuracy and timestamp files written next to the
// active model. Either may be missing.
type Sidecars interface {
	Accuracy() (float64, error)
	RetrainedAt() (string, error)
}

type PredictionResult struct {
	Prediction     string   `json:"prediction"`
	CKDStage       string   `json:"ckd_stage"`
	Recommendation string   `json:"recommendation"`
	Confidence     float64  `json:"confidence"`
	ModelAccuracy  any      `json:"model_accuracy"`
	RetrainedAt    string   `json:"retrained_at"`
	RiskFlags      []string `json:"risk_flags"`
	ModelOpinion   string   `json:"model_opinion"`
	Overridden     bool     `json:"overridden"`
}

type ModelInfo struct {
	ModelAccuracy any    `json:"model_accuracy"`
	RetrainedAt   string `json:"retrained_at"`
	ModelVersion  string `json:"model_version,omitempty"`
	ModelFamily   string `json:"model_family,omitempty"`
}

type PredictionService interface {
	PredictForUser(ctx context.Context, userID int64) (*PredictionResult, error)
	ModelInfo(ctx context.Context) (*ModelInfo, error)
}

type predictionService struct {
	records  repository.PatientRecordRepository
	logs     repository.RetrainLogRepository
	registry *artifact.Registry
	sidecars Sidecars
	pipeline *diagnosis.Pipeline
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewPredictionService(
	records repository.PatientRecordRepository,
	logs repository.RetrainLogRepository,
	registry *artifact.Registry,
	sidecars Sidecars,
	pipeline *diagnosis.Pipeline,
	m *metrics.Metrics,
	logger *zap.Logger,
) PredictionService {
	return &predictionService{
		records:  records,
		logs:     logs,
		registry: registry,
		sidecars: sidecars,
		pipeline: pipeline,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *predictionService) PredictForUser(ctx context.Context, userID int64) (*PredictionResult, error) {
	rec, err := s.records.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		s.logger.Error("Failed to load patient record", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to load patient record: %w", err)
	}

	a := s.pipeline.Evaluate(s.registry.Model(), rec)
	confidence := round2(a.Confidence * 100)

	verdict := models.Verdict{
		Prediction:     a.Prediction,
		Recommendation: a.Recommendation,
		Confidence:     confidence,
		PredictedAt:    s.now().UTC(),
	}
	if err := s.records.UpdateVerdict(ctx, userID, verdict); err != nil {
		s.logger.Error("Failed to save prediction", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to save prediction: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObservePrediction(a.Prediction, a.Overridden)
	}
	if a.Overridden {
		s.logger.Info("Model prediction overridden by red flags",
			zap.Int64("user_id", userID),
			zap.String("model_opinion", a.ModelOpinion),
			zap.Int("flags", len(a.RiskFlags)),
		)
	}

	accuracy, retrainedAt := s.readSidecars(unknown)
	return &PredictionResult{
		Prediction:     a.Prediction,
		CKDStage:       a.Stage.String(),
		Recommendation: a.Recommendation,
		Confidence:     confidence,
		ModelAccuracy:  accuracy,
		RetrainedAt:    retrainedAt,
		RiskFlags:      a.RiskFlags,
		ModelOpinion:   a.ModelOpinion,
		Overridden:     a.Overridden,
	}, nil
}

// readSidecars returns the accuracy as a percentage, or missing when the file
// is absent or holds zero, and the timestamp or "Unknown".
func (s *predictionService) readSidecars(missing string) (any, string) {
	var accuracy any = missing
	if acc, err := s.sidecars.Accuracy(); err == nil && acc > 0 {
		accuracy = round2(acc * 100)
	} else if err != nil && !errors.Is(err, artifact.ErrNoArtifact) {
		s.logger.Warn("Failed to read accuracy sidecar", zap.Error(err))
	}

	retrainedAt := unknown
	if ts, err := s.sidecars.RetrainedAt(); err == nil && ts != "" {
		retrainedAt = ts
	}
	return accuracy, retrainedAt
}

func (s *predictionService) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	info := &ModelInfo{}
	if m := s.registry.Current(); m != nil {
		info.ModelVersion = m.Version
		info.ModelFamily = m.Family()
	}

	latest, err := s.logs.Latest(ctx)
	switch {
	case err == nil:
		info.RetrainedAt = latest.RetrainedAt.UTC().Format(artifact.TimestampLayout)
		info.ModelAccuracy = round2(latest.Accuracy * 100)
		if latest.Accuracy <= 0 {
			info.ModelAccuracy = "N/A"
		}
		if info.ModelVersion == "" {
			info.ModelVersion = latest.ModelVersion
			info.ModelFamily = latest.ModelFamily
		}
	case errors.Is(err, repository.ErrNotFound):
		info.ModelAccuracy, info.RetrainedAt = s.readSidecars("N/A")
	default:
		s.logger.Error("Failed to read retrain log", zap.Error(err))
		return nil, fmt.Errorf("failed to read retrain log: %w", err)
	}
	return info, nil
}
