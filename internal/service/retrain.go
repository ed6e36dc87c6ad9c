package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"ckd-backend/internal/artifact"
	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/metrics"
	"ckd-backend/internal/ml"
	"ckd-backend/internal/models"
	"ckd-backend/internal/notify"
	"ckd-backend/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetrainOptions configures how a fresh model is fit.
type RetrainOptions struct {
	Family       string
	Seed         int64
	Balance      bool
	TestRatio    float64
	HyperParams  ml.HyperParams
	KeepVersions int
}

type RetrainResult struct {
	Message      string  `json:"message"`
	Accuracy     float64 `json:"accuracy"`
	RetrainedAt  string  `json:"retrained_at"`
	ModelVersion string  `json:"model_version"`
	ModelFamily  string  `json:"model_family"`
	SampleCount  int     `json:"sample_count"`
	JobID        string  `json:"job_id"`
}

type RetrainService interface {
	// Retrain runs a full fit on the calling goroutine.
	Retrain(ctx context.Context, actor Actor) (*RetrainResult, error)
	Progress(ctx context.Context, actor Actor) (models.Progress, error)
	// CurrentJob returns the running job, or the last finished one.
	CurrentJob(actor Actor) (*models.RetrainJob, error)
	Cancel(actor Actor) error
	Logs(ctx context.Context, actor Actor, limit int) ([]models.ModelRetrainLog, error)
}

type retrainService struct {
	records  repository.PatientRecordRepository
	logs     repository.RetrainLogRepository
	store    *artifact.Store
	registry *artifact.Registry
	progress artifact.ProgressStore
	notifier notify.Notifier
	metrics  *metrics.Metrics
	opts     RetrainOptions
	logger   *zap.Logger
	now      func() time.Time

	running sync.Mutex

	mu     sync.Mutex
	job    *models.RetrainJob
	cancel context.CancelFunc
}

func NewRetrainService(
	records repository.PatientRecordRepository,
	logs repository.RetrainLogRepository,
	store *artifact.Store,
	registry *artifact.Registry,
	progress artifact.ProgressStore,
	notifier notify.Notifier,
	m *metrics.Metrics,
	opts RetrainOptions,
	logger *zap.Logger,
) RetrainService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &retrainService{
		records:  records,
		logs:     logs,
		store:    store,
		registry: registry,
		progress: progress,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *retrainService) Retrain(ctx context.Context, actor Actor) (*RetrainResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if !s.running.TryLock() {
		return nil, ErrRetrainInProgress
	}
	defer s.running.Unlock()

	// The fit outlives a dropped HTTP connection; only Cancel stops it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	job := &models.RetrainJob{
		ID:        uuid.NewString(),
		Status:    models.JobStatusRunning,
		Family:    s.opts.Family,
		StartedAt: s.now().UTC(),
	}
	s.mu.Lock()
	s.job, s.cancel = job, cancel
	s.mu.Unlock()

	logger := s.logger.With(zap.String("job_id", job.ID), zap.String("family", s.opts.Family))
	logger.Info("Retrain started")

	result, err := s.run(jobCtx, job, logger)
	s.finish(jobCtx, job, result, err, logger)
	if errors.Is(err, context.Canceled) {
		return nil, ErrRetrainCancelled
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *retrainService) run(ctx context.Context, job *models.RetrainJob, logger *zap.Logger) (*RetrainResult, error) {
	if err := s.progress.Reset(ctx); err != nil {
		logger.Warn("Failed to reset retrain progress", zap.Error(err))
	}

	records, err := s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrTrainingDataEmpty
	}

	schema := diagnosis.CurrentSchema()
	enc, err := diagnosis.NewEncoder(schema)
	if err != nil {
		return nil, err
	}
	X, y, dropped := ml.TrainingSet(enc, records)
	logger.Info("Training set built",
		zap.Int("records", len(records)),
		zap.Int("usable", len(X)),
		zap.Int("dropped", dropped),
	)
	if len(X) == 0 {
		return nil, ErrTrainingDataEmpty
	}

	rng := rand.New(rand.NewSource(s.opts.Seed))
	trainX, trainY, testX, testY := ml.Split(X, y, s.opts.TestRatio, rng)
	if s.opts.Balance {
		trainX, trainY = ml.Upsample(trainX, trainY, rng)
	}

	classifier, err := ml.New(s.opts.Family, s.opts.HyperParams)
	if err != nil {
		return nil, err
	}

	var scaler *ml.StandardScaler
	if ml.NeedsScaler(s.opts.Family) {
		if scaler, err = ml.FitScaler(trainX); err != nil {
			return nil, err
		}
		trainX = scaler.TransformBatch(trainX)
	}

	reporter := artifact.NewReporter(ctx, s.progress, logger)
	total := 0
	err = classifier.Fit(ctx, trainX, trainY, ml.FitOptions{
		Seed: s.opts.Seed,
		OnStep: func(step, n int) {
			total = n
			reporter.Step(step, n)
			s.mu.Lock()
			job.Progress = reporter.Last()
			s.mu.Unlock()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fit %s model: %w", s.opts.Family, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := ml.NewModel(classifier, scaler, schema)
	if err != nil {
		return nil, err
	}
	model.Version = job.ID
	model.Accuracy = ml.Accuracy(model, testX, testY)
	model.TrainedAt = s.now().UTC().Truncate(time.Second)

	staged, err := s.store.Stage(model)
	if err != nil {
		return nil, fmt.Errorf("failed to stage model: %w", err)
	}
	entry := &models.ModelRetrainLog{
		Accuracy:     model.Accuracy,
		RetrainedAt:  model.TrainedAt,
		ModelVersion: model.Version,
		ModelFamily:  s.opts.Family,
		SampleCount:  len(X),
	}
	// Once staged, a cancel must not leave CURRENT switched without its log row.
	if err := s.logs.Append(context.WithoutCancel(ctx), entry, staged.Activate); err != nil {
		staged.Discard()
		return nil, fmt.Errorf("failed to record retrain: %w", err)
	}

	s.registry.Swap(model)
	reporter.Finish(total)
	s.mu.Lock()
	job.Progress = reporter.Last()
	s.mu.Unlock()

	if err := s.store.Prune(s.opts.KeepVersions); err != nil {
		logger.Warn("Failed to prune old model versions", zap.Error(err))
	}

	return &RetrainResult{
		Message:      "Model retrained successfully.",
		Accuracy:     round2(model.Accuracy * 100),
		RetrainedAt:  model.TrainedAt.Format(artifact.TimestampLayout),
		ModelVersion: model.Version,
		ModelFamily:  s.opts.Family,
		SampleCount:  len(X),
		JobID:        job.ID,
	}, nil
}

func (s *retrainService) finish(ctx context.Context, job *models.RetrainJob, result *RetrainResult, err error, logger *zap.Logger) {
	finished := s.now().UTC()

	s.mu.Lock()
	job.FinishedAt = &finished
	switch {
	case err == nil:
		job.Status = models.JobStatusCompleted
		job.ModelVersion = result.ModelVersion
		acc := result.Accuracy / 100
		job.Accuracy = &acc
	case errors.Is(err, context.Canceled):
		job.Status = models.JobStatusCancelled
		job.ErrorMessage = ErrRetrainCancelled.Error()
	default:
		job.Status = models.JobStatusFailed
		job.ErrorMessage = err.Error()
	}
	s.cancel = nil
	snapshot := *job
	s.mu.Unlock()

	elapsed := finished.Sub(job.StartedAt)
	if s.metrics != nil {
		s.metrics.ObserveRetrain(snapshot.Status, elapsed)
		if err == nil {
			s.metrics.SetModel(true, *snapshot.Accuracy)
		}
	}

	switch snapshot.Status {
	case models.JobStatusCompleted:
		logger.Info("Retrain completed",
			zap.String("version", snapshot.ModelVersion),
			zap.Float64("accuracy", *snapshot.Accuracy),
			zap.Duration("elapsed", elapsed),
		)
	case models.JobStatusCancelled:
		logger.Info("Retrain cancelled", zap.Duration("elapsed", elapsed))
	default:
		if errors.Is(err, ErrTrainingDataEmpty) {
			logger.Warn("Retrain rejected", zap.Error(err))
			return
		}
		logger.Error("Retrain failed", zap.Error(err))
	}
	s.notifier.RetrainFinished(context.WithoutCancel(ctx), snapshot)
}

func (s *retrainService) Progress(ctx context.Context, actor Actor) (models.Progress, error) {
	if !actor.IsAdmin() {
		return models.Progress{}, ErrForbidden
	}
	p, err := s.progress.Read(ctx)
	if err != nil {
		s.logger.Error("Failed to read retrain progress", zap.Error(err))
		return models.Progress{}, fmt.Errorf("failed to read progress: %w", err)
	}
	return p, nil
}

func (s *retrainService) CurrentJob(actor Actor) (*models.RetrainJob, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil, ErrNoActiveRetrain
	}
	snapshot := *s.job
	return &snapshot, nil
}

func (s *retrainService) Cancel(actor Actor) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return ErrNoActiveRetrain
	}
	s.cancel()
	s.logger.Info("Retrain cancellation requested", zap.String("job_id", s.job.ID))
	return nil
}

func (s *retrainService) Logs(ctx context.Context, actor Actor, limit int) ([]models.ModelRetrainLog, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	entries, err := s.logs.List(ctx, limit)
	if err != nil {
		s.logger.Error("Failed to list retrain logs", zap.Error(err))
		return nil, fmt.Errorf("failed to list retrain logs: %w", err)
	}
	return entries, nil
}
