package service

import (
	"context"
	"errors"
	"fmt"

	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"go.uber.org/zap"
)

type RecordService interface {
	GetOwn(ctx context.Context, userID int64) (*models.PatientRecord, error)
	// SaveOwn creates the caller's record or replaces its lab values.
	SaveOwn(ctx context.Context, userID int64, rec *models.PatientRecord) (*models.PatientRecord, error)
	GetForUser(ctx context.Context, actor Actor, userID int64) (*models.PatientRecord, error)
	UpdateForUser(ctx context.Context, actor Actor, userID int64, rec *models.PatientRecord) (*models.PatientRecord, error)
}

type recordService struct {
	records repository.PatientRecordRepository
	logger  *zap.Logger
}

func NewRecordService(records repository.PatientRecordRepository, logger *zap.Logger) RecordService {
	return &recordService{records: records, logger: logger}
}

func (s *recordService) get(ctx context.Context, userID int64) (*models.PatientRecord, error) {
	rec, err := s.records.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get patient record", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get patient record: %w", err)
	}
	return rec, nil
}

func (s *recordService) GetOwn(ctx context.Context, userID int64) (*models.PatientRecord, error) {
	return s.get(ctx, userID)
}

func (s *recordService) SaveOwn(ctx context.Context, userID int64, rec *models.PatientRecord) (*models.PatientRecord, error) {
	rec.UserID = userID
	if err := s.records.Upsert(ctx, rec); err != nil {
		s.logger.Error("Failed to save patient record", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to save patient record: %w", err)
	}
	return s.get(ctx, userID)
}

func (s *recordService) GetForUser(ctx context.Context, actor Actor, userID int64) (*models.PatientRecord, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.get(ctx, userID)
}

func (s *recordService) UpdateForUser(ctx context.Context, actor Actor, userID int64, rec *models.PatientRecord) (*models.PatientRecord, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	rec.UserID = userID
	if err := s.records.UpdateByUserID(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		s.logger.Error("Failed to update patient record", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to update patient record: %w", err)
	}
	return s.get(ctx, userID)
}
