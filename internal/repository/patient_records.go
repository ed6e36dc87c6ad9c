package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"ckd-backend/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PatientRecordRepository handles the patient_records table. The verdict cache
// columns are written only through UpdateVerdict.
type PatientRecordRepository interface {
	GetByUserID(ctx context.Context, userID int64) (*models.PatientRecord, error)
	ListAll(ctx context.Context) ([]models.PatientRecord, error)
	Upsert(ctx context.Context, record *models.PatientRecord) error
	UpdateByUserID(ctx context.Context, record *models.PatientRecord) error
	UpdateVerdict(ctx context.Context, userID int64, v models.Verdict) error
	Count(ctx context.Context) (int, error)
	// ReplaceAll deletes every record and non-admin user, then inserts the
	// given patients, all in one transaction.
	ReplaceAll(ctx context.Context, patients []ImportedPatient) error
}

// ImportedPatient pairs a new user with the record to attach to it.
type ImportedPatient struct {
	User   models.User
	Record models.PatientRecord
}

type patientRecordRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewPatientRecordRepository(db *sqlx.DB, logger *zap.Logger) PatientRecordRepository {
	return &patientRecordRepository{db: db, logger: logger}
}

const recordColumns = `id, user_id, age, bp, sg, al, su, rbc, pc, pcc, ba, bgr, bu, sc, sod, pot,
	hemo, pcv, wc, rc, htn, dm, cad, appet, pe, ane, classification, smoker, ckd_stage, created_at,
	last_prediction, last_recommendation, last_confidence, last_predicted_at`

const insertRecordQuery = `INSERT INTO patient_records (
		user_id, age, bp, sg, al, su, rbc, pc, pcc, ba, bgr, bu, sc, sod, pot,
		hemo, pcv, wc, rc, htn, dm, cad, appet, pe, ane, classification, smoker, ckd_stage, created_at
	) VALUES (
		:user_id, :age, :bp, :sg, :al, :su, :rbc, :pc, :pcc, :ba, :bgr, :bu, :sc, :sod, :pot,
		:hemo, :pcv, :wc, :rc, :htn, :dm, :cad, :appet, :pe, :ane, :classification, :smoker, :ckd_stage, :created_at
	)`

const labColumnsUpdate = `age = :age, bp = :bp, sg = :sg, al = :al, su = :su, rbc = :rbc, pc = :pc,
	pcc = :pcc, ba = :ba, bgr = :bgr, bu = :bu, sc = :sc, sod = :sod, pot = :pot, hemo = :hemo,
	pcv = :pcv, wc = :wc, rc = :rc, htn = :htn, dm = :dm, cad = :cad, appet = :appet, pe = :pe,
	ane = :ane, classification = :classification, smoker = :smoker, ckd_stage = :ckd_stage`

func (r *patientRecordRepository) GetByUserID(ctx context.Context, userID int64) (*models.PatientRecord, error) {
	var rec models.PatientRecord
	query := r.db.Rebind(`SELECT ` + recordColumns + ` FROM patient_records WHERE user_id = ?`)
	if err := r.db.GetContext(ctx, &rec, query, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *patientRecordRepository) ListAll(ctx context.Context) ([]models.PatientRecord, error) {
	records := []models.PatientRecord{}
	if err := r.db.SelectContext(ctx, &records, `SELECT `+recordColumns+` FROM patient_records ORDER BY id`); err != nil {
		return nil, err
	}
	return records, nil
}

// Upsert creates the user's record or replaces its lab values in place.
func (r *patientRecordRepository) Upsert(ctx context.Context, record *models.PatientRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query, args, err := r.db.BindNamed(insertRecordQuery+`
		ON CONFLICT (user_id) DO UPDATE SET `+excludedAssignments()+` RETURNING id`, record)
	if err != nil {
		return err
	}
	return r.db.QueryRowxContext(ctx, query, args...).Scan(&record.ID)
}

func (r *patientRecordRepository) UpdateByUserID(ctx context.Context, record *models.PatientRecord) error {
	res, err := r.db.NamedExecContext(ctx, `UPDATE patient_records SET `+labColumnsUpdate+` WHERE user_id = :user_id`, record)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *patientRecordRepository) UpdateVerdict(ctx context.Context, userID int64, v models.Verdict) error {
	query := r.db.Rebind(`UPDATE patient_records
		SET last_prediction = ?, last_recommendation = ?, last_confidence = ?, last_predicted_at = ?
		WHERE user_id = ?`)
	res, err := r.db.ExecContext(ctx, query, v.Prediction, v.Recommendation, v.Confidence, v.PredictedAt, userID)
	if err != nil {
		return err
	}
	return expectRow(res)
}

func (r *patientRecordRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM patient_records`); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *patientRecordRepository) ReplaceAll(ctx context.Context, patients []ImportedPatient) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM patient_records`); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM users WHERE role <> ?`), models.RoleAdmin); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}

	now := time.Now().UTC()
	for i := range patients {
		p := &patients[i]
		if err := insertUser(ctx, tx, &p.User); err != nil {
			return fmt.Errorf("insert user %s: %w", p.User.Username, err)
		}
		p.Record.UserID = p.User.ID
		if p.Record.CreatedAt.IsZero() {
			p.Record.CreatedAt = now
		}
		query, args, err := tx.BindNamed(insertRecordQuery+` RETURNING id`, &p.Record)
		if err != nil {
			return err
		}
		if err := tx.QueryRowxContext(ctx, query, args...).Scan(&p.Record.ID); err != nil {
			return fmt.Errorf("insert record for %s: %w", p.User.Username, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	r.logger.Info("Replaced patient dataset", zap.Int("patients", len(patients)))
	return nil
}

var labColumns = []string{
	"age", "bp", "sg", "al", "su", "rbc", "pc", "pcc", "ba", "bgr", "bu", "sc", "sod", "pot",
	"hemo", "pcv", "wc", "rc", "htn", "dm", "cad", "appet", "pe", "ane",
	"classification", "smoker", "ckd_stage",
}

func excludedAssignments() string {
	sets := make([]string, len(labColumns))
	for i, c := range labColumns {
		sets[i] = c + " = excluded." + c
	}
	return strings.Join(sets, ", ")
}
