package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ckd-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// RetrainLogRepository is append-only.
type RetrainLogRepository interface {
	// Append inserts entry and runs commit before the transaction commits.
	// If commit fails the entry is rolled back.
	Append(ctx context.Context, entry *models.ModelRetrainLog, commit func() error) error
	Latest(ctx context.Context) (*models.ModelRetrainLog, error)
	List(ctx context.Context, limit int) ([]models.ModelRetrainLog, error)
}

type retrainLogRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRetrainLogRepository(db *sqlx.DB, logger *zap.Logger) RetrainLogRepository {
	return &retrainLogRepository{db: db, logger: logger}
}

const retrainLogColumns = `id, accuracy, retrained_at, model_version, model_family, sample_count`

func (r *retrainLogRepository) Append(ctx context.Context, entry *models.ModelRetrainLog, commit func() error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := tx.Rebind(`INSERT INTO model_retrain_logs (accuracy, retrained_at, model_version, model_family, sample_count)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	err = tx.QueryRowxContext(ctx, query,
		entry.Accuracy, entry.RetrainedAt, entry.ModelVersion, entry.ModelFamily, entry.SampleCount,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert retrain log: %w", err)
	}

	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *retrainLogRepository) Latest(ctx context.Context) (*models.ModelRetrainLog, error) {
	var entry models.ModelRetrainLog
	err := r.db.GetContext(ctx, &entry, `SELECT `+retrainLogColumns+` FROM model_retrain_logs ORDER BY retrained_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *retrainLogRepository) List(ctx context.Context, limit int) ([]models.ModelRetrainLog, error) {
	if limit <= 0 {
		limit = 50
	}
	entries := []models.ModelRetrainLog{}
	query := r.db.Rebind(`SELECT ` + retrainLogColumns + ` FROM model_retrain_logs ORDER BY retrained_at DESC, id DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, err
	}
	return entries, nil
}
