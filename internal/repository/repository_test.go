package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ckd-backend/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ckd.db") + "?_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := NewDB(DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, MigrateDB(db, zap.NewNop()))
	return db
}

func setupMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, DriverPostgres)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newUser(name, role string) *models.User {
	return &models.User{Username: name, Email: name + "@email.com", Role: role, PasswordHash: "hash"}
}

func newRecord(userID int64) *models.PatientRecord {
	return &models.PatientRecord{
		UserID: userID, Age: 48, BP: 80, SG: 1.02, AL: 1, SU: 0,
		RBC: "normal", PC: "normal", PCC: "notpresent", BA: "notpresent",
		BGR: 121, BU: 36, SC: 1.2, SOD: 137, POT: 4.4, HEMO: 15.4, PCV: 44, WC: 7800, RC: 5.2,
		HTN: "yes", DM: "no", CAD: "no", Appet: "good", PE: "no", ANE: "no",
		Classification: "ckd", Smoker: "no", CKDStage: "early",
	}
}

func TestMigrateDBIsIdempotent(t *testing.T) {
	db := setupSQLite(t)
	assert.NoError(t, MigrateDB(db, zap.NewNop()))
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(setupSQLite(t), zap.NewNop())

	alice := newUser("alice", models.RolePatient)
	require.NoError(t, repo.CreateUser(ctx, alice))
	assert.NotZero(t, alice.ID)

	err := repo.CreateUser(ctx, newUser("alice", models.RolePatient))
	assert.ErrorIs(t, err, ErrConflict)

	got, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.Nil(t, got.PhoneNumber)

	_, err = repo.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	phone := "+15550100"
	got.Email = "alice@clinic.org"
	got.PhoneNumber = &phone
	require.NoError(t, repo.UpdateUser(ctx, got))
	got, err = repo.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@clinic.org", got.Email)
	require.NotNil(t, got.PhoneNumber)
	assert.Equal(t, phone, *got.PhoneNumber)

	assert.ErrorIs(t, repo.UpdateUser(ctx, &models.User{ID: 999, Email: "x@y.z"}), ErrNotFound)

	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSingleAdminConstraint(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(setupSQLite(t), zap.NewNop())

	require.NoError(t, repo.CreateUser(ctx, newUser("root", models.RoleAdmin)))
	err := repo.CreateUser(ctx, newUser("root2", models.RoleAdmin))
	assert.ErrorIs(t, err, ErrConflict)

	n, err := repo.CountByRole(ctx, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPatientRecordRepository(t *testing.T) {
	ctx := context.Background()
	db := setupSQLite(t)
	users := NewUserRepository(db, zap.NewNop())
	repo := NewPatientRecordRepository(db, zap.NewNop())

	u := newUser("p1", models.RolePatient)
	require.NoError(t, users.CreateUser(ctx, u))

	_, err := repo.GetByUserID(ctx, u.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rec := newRecord(u.ID)
	require.NoError(t, repo.Upsert(ctx, rec))
	firstID := rec.ID

	replacement := newRecord(u.ID)
	replacement.SC = 6.1
	require.NoError(t, repo.Upsert(ctx, replacement))
	assert.Equal(t, firstID, replacement.ID, "upsert keeps one record per user")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	predictedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateVerdict(ctx, u.ID, models.Verdict{
		Prediction: "ckd", Recommendation: "see doctor", Confidence: 91.25, PredictedAt: predictedAt,
	}))

	got, err := repo.GetByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 6.1, got.SC)
	assert.Equal(t, "yes", got.HTN)
	require.NotNil(t, got.LastPrediction)
	assert.Equal(t, "ckd", *got.LastPrediction)
	require.NotNil(t, got.LastConfidence)
	assert.Equal(t, 91.25, *got.LastConfidence)
	require.NotNil(t, got.LastPredictedAt)
	assert.True(t, predictedAt.Equal(*got.LastPredictedAt))

	got.HEMO = 8.0
	require.NoError(t, repo.UpdateByUserID(ctx, got))
	again, err := repo.GetByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 8.0, again.HEMO)
	require.NotNil(t, again.LastPrediction, "lab updates leave the verdict cache alone")

	assert.ErrorIs(t, repo.UpdateVerdict(ctx, 999, models.Verdict{}), ErrNotFound)
	assert.ErrorIs(t, repo.UpdateByUserID(ctx, newRecord(999)), ErrNotFound)
}

func TestReplaceAll(t *testing.T) {
	ctx := context.Background()
	db := setupSQLite(t)
	users := NewUserRepository(db, zap.NewNop())
	repo := NewPatientRecordRepository(db, zap.NewNop())

	admin := newUser("admin", models.RoleAdmin)
	require.NoError(t, users.CreateUser(ctx, admin))
	old := newUser("old", models.RolePatient)
	require.NoError(t, users.CreateUser(ctx, old))
	require.NoError(t, repo.Upsert(ctx, newRecord(old.ID)))

	patients := []ImportedPatient{
		{User: *newUser("patient1", models.RolePatient), Record: *newRecord(0)},
		{User: *newUser("patient2", models.RolePatient), Record: *newRecord(0)},
	}
	require.NoError(t, repo.ReplaceAll(ctx, patients))

	all, err := users.ListUsers(ctx)
	require.NoError(t, err)
	var names []string
	for _, u := range all {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"admin", "patient1", "patient2"}, names)

	records, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, patients[0].User.ID, records[0].UserID)
}

func TestReplaceAllRollsBackOnConflict(t *testing.T) {
	ctx := context.Background()
	db := setupSQLite(t)
	users := NewUserRepository(db, zap.NewNop())
	repo := NewPatientRecordRepository(db, zap.NewNop())

	old := newUser("old", models.RolePatient)
	require.NoError(t, users.CreateUser(ctx, old))

	dup := []ImportedPatient{
		{User: *newUser("patient1", models.RolePatient), Record: *newRecord(0)},
		{User: *newUser("patient1", models.RolePatient), Record: *newRecord(0)},
	}
	err := repo.ReplaceAll(ctx, dup)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = users.GetUserByUsername(ctx, "old")
	assert.NoError(t, err, "failed import must not delete existing users")
}

func TestRetrainLogRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewRetrainLogRepository(setupSQLite(t), zap.NewNop())

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := &models.ModelRetrainLog{
			Accuracy: 0.9 + float64(i)/100, RetrainedAt: base.Add(time.Duration(i) * time.Hour),
			ModelVersion: "v" + string(rune('a'+i)), ModelFamily: "forest", SampleCount: 100,
		}
		require.NoError(t, repo.Append(ctx, entry, nil))
		assert.NotZero(t, entry.ID)
	}

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vc", latest.ModelVersion)

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "vc", list[0].ModelVersion)
	assert.Equal(t, "vb", list[1].ModelVersion)

	hookErr := errors.New("activate failed")
	err = repo.Append(ctx, &models.ModelRetrainLog{Accuracy: 1, RetrainedAt: base.Add(10 * time.Hour)}, func() error {
		return hookErr
	})
	assert.ErrorIs(t, err, hookErr)

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "vc", latest.ModelVersion, "failed hook rolls the entry back")
}

func TestUserRepository_DBError(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewUserRepository(db, zap.NewNop())

	mock.ExpectQuery(`SELECT id, username`).
		WithArgs("alice").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.GetUserByUsername(context.Background(), "alice")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVerdict_TouchesOnlyCacheColumns(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewPatientRecordRepository(db, zap.NewNop())

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`UPDATE patient_records\s+SET last_prediction = \$1, last_recommendation = \$2, last_confidence = \$3, last_predicted_at = \$4\s+WHERE user_id = \$5`).
		WithArgs("notckd", "ok", 80.5, at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateVerdict(context.Background(), 7, models.Verdict{
		Prediction: "notckd", Recommendation: "ok", Confidence: 80.5, PredictedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRetrainLogAppend_InsertFailure(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewRetrainLogRepository(db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO model_retrain_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	called := false
	err := repo.Append(context.Background(), &models.ModelRetrainLog{}, func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called, "artifact must not be activated when the log insert fails")
	assert.NoError(t, mock.ExpectationsWereMet())
}
