package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ckd-backend/internal/artifact"
	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/ml"
	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var (
	admin   = Actor{UserID: 1, Role: models.RoleAdmin}
	patient = Actor{UserID: 2, Role: models.RolePatient}
)

func testHasher() *PasswordHasher {
	return NewPasswordHasher(Argon2Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16})
}

func setupDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ckd.db") + "?_pragma=foreign_keys(1)&_time_format=sqlite"
	db, err := repository.NewDB(repository.DriverSQLite, dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.MigrateDB(db, zap.NewNop()))
	return db
}

func labRecord(sick bool) models.PatientRecord {
	r := models.PatientRecord{
		Age: 45, BP: 70, SG: 1.02, AL: 0, SU: 0,
		RBC: "normal", PC: "normal", PCC: "notpresent", BA: "notpresent",
		BGR: 100, BU: 30, SC: 0.9, SOD: 140, POT: 4.5, HEMO: 15, PCV: 45, WC: 7500, RC: 5.2,
		HTN: "no", DM: "no", CAD: "no", Appet: "good", PE: "no", ANE: "no",
		Classification: "notckd", Smoker: "no", CKDStage: "early",
	}
	if sick {
		r.AL, r.SC, r.HEMO, r.PCV, r.BU = 3, 4.2, 9.5, 31, 90
		r.HTN, r.PC, r.Appet = "yes", "abnormal", "poor"
		r.Classification = "ckd"
	}
	return r
}

func seedPatients(t *testing.T, records repository.PatientRecordRepository, n int) []repository.ImportedPatient {
	t.Helper()
	patients := make([]repository.ImportedPatient, n)
	for i := range patients {
		name := fmt.Sprintf("patient%d", i+1)
		patients[i] = repository.ImportedPatient{
			User:   models.User{Username: name, Email: name + "@email.com", Role: models.RolePatient, PasswordHash: "x"},
			Record: labRecord(i%2 == 0),
		}
	}
	require.NoError(t, records.ReplaceAll(context.Background(), patients))
	return patients
}

func TestAuthService(t *testing.T) {
	ctx := context.Background()
	users := repository.NewUserRepository(setupDB(t), zap.NewNop())
	svc := NewAuthService(users, testHasher(), "secret", time.Hour, zap.NewNop())

	u, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, models.RolePatient, u.Role)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expires, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, models.RolePatient, claims.Role)

	other := NewAuthService(users, testHasher(), "different", time.Hour, zap.NewNop())
	_, err = other.ParseToken(token)
	assert.Error(t, err)
}

func TestAuthService_SingleAdmin(t *testing.T) {
	ctx := context.Background()
	svc := NewAuthService(repository.NewUserRepository(setupDB(t), zap.NewNop()), testHasher(), "secret", time.Hour, zap.NewNop())

	a, err := svc.RegisterAdmin(ctx, RegisterInput{Username: "root", Email: "root@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, a.IsAdmin())

	_, err = svc.RegisterAdmin(ctx, RegisterInput{Username: "root2", Email: "root2@example.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrAdminExists)
}

func TestUserService(t *testing.T) {
	ctx := context.Background()
	users := repository.NewUserRepository(setupDB(t), zap.NewNop())
	hasher := testHasher()
	auth := NewAuthService(users, hasher, "secret", time.Hour, zap.NewNop())
	svc := NewUserService(users, hasher, zap.NewNop())

	u, err := auth.Register(ctx, RegisterInput{Username: "bob", Email: "bob@example.com", Password: "old"})
	require.NoError(t, err)

	email, phone, password := "new@example.com", "555-0100", "new"
	updated, err := svc.UpdateAccount(ctx, u.ID, UpdateAccountInput{Email: &email, PhoneNumber: &phone, Password: &password})
	require.NoError(t, err)
	assert.Equal(t, email, updated.Email)
	require.NotNil(t, updated.PhoneNumber)
	assert.Equal(t, phone, *updated.PhoneNumber)

	_, _, err = auth.Login(ctx, "bob", "new")
	assert.NoError(t, err)

	_, err = svc.UpdateAccount(ctx, 999, UpdateAccountInput{Email: &email})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.ListUsers(ctx, patient)
	assert.ErrorIs(t, err, ErrForbidden)
	list, err := svc.ListUsers(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.GetUser(ctx, patient, u.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRecordService(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := repository.NewUserRepository(db, zap.NewNop())
	svc := NewRecordService(repository.NewPatientRecordRepository(db, zap.NewNop()), zap.NewNop())

	u := &models.User{Username: "carol", Email: "carol@example.com", Role: models.RolePatient, PasswordHash: "x"}
	require.NoError(t, users.CreateUser(ctx, u))

	_, err := svc.GetOwn(ctx, u.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	rec := labRecord(false)
	saved, err := svc.SaveOwn(ctx, u.ID, &rec)
	require.NoError(t, err)
	assert.Equal(t, u.ID, saved.UserID)

	rec.SC = 2.5
	again, err := svc.SaveOwn(ctx, u.ID, &rec)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, again.ID)
	assert.Equal(t, 2.5, again.SC)

	_, err = svc.GetForUser(ctx, patient, u.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	rec.HEMO = 11
	got, err := svc.UpdateForUser(ctx, admin, u.ID, &rec)
	require.NoError(t, err)
	assert.Equal(t, 11.0, got.HEMO)

	_, err = svc.UpdateForUser(ctx, admin, 999, &rec)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

const importCSV = `Age,BP,SG,AL,SU,RBC,PC,PCC,BA,BGR,BU,SC,SOD,POT,HEMO,PCV,WC,RC,HTN,DM,CAD,APPET,PE,ANE,Classification
48,80,1.02,1,0,?,normal,notpresent,notpresent,121,36,1.2,?,?,15.4,44,7800,5.2,yes,yes,no,good,no,no,CKD
7,50,1.02,4,0,,normal,notpresent,notpresent,,18,0.8,,,11.3,38,6000,,no,no,no,good,no,no, notckd
`

func TestImportService_CSV(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	users := repository.NewUserRepository(db, zap.NewNop())
	records := repository.NewPatientRecordRepository(db, zap.NewNop())
	hasher := testHasher()
	svc := NewImportService(records, hasher, zap.NewNop())

	root := &models.User{Username: "root", Email: "root@example.com", Role: models.RoleAdmin, PasswordHash: "x"}
	require.NoError(t, users.CreateUser(ctx, root))
	seedPatients(t, records, 5)

	res, err := svc.Import(ctx, admin, "kidney.csv", strings.NewReader(importCSV))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)

	count, err := records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = users.GetUserByID(ctx, root.ID)
	assert.NoError(t, err, "admin survives a re-import")

	p2, err := users.GetUserByUsername(ctx, "patient2")
	require.NoError(t, err)
	assert.Equal(t, "patient2@email.com", p2.Email)
	assert.True(t, hasher.Verify(p2.PasswordHash, "patient2"))

	rec, err := records.GetByUserID(ctx, p2.ID)
	require.NoError(t, err)
	assert.Equal(t, "notckd", rec.Classification)
	assert.Equal(t, 0.0, rec.BGR)
	assert.Equal(t, "normal", rec.RBC)
	assert.Equal(t, "no", rec.Smoker)
	assert.Equal(t, "early", rec.CKDStage)

	p1, err := users.GetUserByUsername(ctx, "patient1")
	require.NoError(t, err)
	rec, err = records.GetByUserID(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "ckd", rec.Classification)
	assert.Equal(t, 0.0, rec.SOD)
}

func TestImportService_XLSX(t *testing.T) {
	ctx := context.Background()
	records := repository.NewPatientRecordRepository(setupDB(t), zap.NewNop())
	svc := NewImportService(records, testHasher(), zap.NewNop())

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"age", "sc", "hemo", "classification", "smoker"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{60, 6.1, 8.2, "ckd", "yes"}))
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	res, err := svc.Import(ctx, admin, "data.XLSX", &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	all, err := records.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 6.1, all[0].SC)
	assert.Equal(t, "yes", all[0].Smoker)
	assert.Equal(t, "good", all[0].Appet)
}

func TestImportService_Rejects(t *testing.T) {
	ctx := context.Background()
	records := repository.NewPatientRecordRepository(setupDB(t), zap.NewNop())
	svc := NewImportService(records, testHasher(), zap.NewNop())

	_, err := svc.Import(ctx, patient, "a.csv", strings.NewReader(importCSV))
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Import(ctx, admin, "a.json", strings.NewReader("{}"))
	assert.ErrorIs(t, err, ErrInvalidImport)

	_, err = svc.Import(ctx, admin, "a.csv", strings.NewReader("age,sc\n"))
	assert.ErrorIs(t, err, ErrInvalidImport)

	_, err = svc.Import(ctx, admin, "a.csv", strings.NewReader("age,sc\nold,1.2\n"))
	assert.ErrorIs(t, err, ErrInvalidImport)

	_, err = svc.Import(ctx, admin, "a.xlsx", strings.NewReader("not a zip"))
	assert.ErrorIs(t, err, ErrInvalidImport)
}

type fakeSidecars struct {
	accuracy    float64
	retrainedAt string
}

func (f fakeSidecars) Accuracy() (float64, error) {
	if f.accuracy == 0 {
		return 0, artifact.ErrNoArtifact
	}
	return f.accuracy, nil
}

func (f fakeSidecars) RetrainedAt() (string, error) {
	if f.retrainedAt == "" {
		return "", artifact.ErrNoArtifact
	}
	return f.retrainedAt, nil
}

func pipeline() *diagnosis.Pipeline {
	return diagnosis.NewPipeline(diagnosis.NewRiskEvaluator(diagnosis.DefaultThresholds()), diagnosis.DefaultOverridePolicy())
}

func TestPredictionService_NoModel(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	records := repository.NewPatientRecordRepository(db, zap.NewNop())
	logs := repository.NewRetrainLogRepository(db, zap.NewNop())
	svc := NewPredictionService(records, logs, artifact.NewRegistry(nil), fakeSidecars{}, pipeline(), nil, zap.NewNop())

	_, err := svc.PredictForUser(ctx, 42)
	assert.ErrorIs(t, err, ErrRecordNotFound)

	patients := seedPatients(t, records, 1)
	userID := patients[0].User.ID

	res, err := svc.PredictForUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, diagnosis.LabelUnknown, res.Prediction)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, "Unknown", res.ModelAccuracy)
	assert.Equal(t, "Unknown", res.RetrainedAt)
	assert.Equal(t, "Stage 3", res.CKDStage)
	assert.False(t, res.Overridden)

	rec, err := records.GetByUserID(ctx, userID)
	require.NoError(t, err)
	require.NotNil(t, rec.LastPrediction)
	assert.Equal(t, diagnosis.LabelUnknown, *rec.LastPrediction)

	info, err := svc.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "N/A", info.ModelAccuracy)
	assert.Equal(t, "Unknown", info.RetrainedAt)
}

func TestPredictionService_SidecarsAndLogs(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	records := repository.NewPatientRecordRepository(db, zap.NewNop())
	logs := repository.NewRetrainLogRepository(db, zap.NewNop())
	side := fakeSidecars{accuracy: 0.9123, retrainedAt: "2024-03-01 10:30:00"}
	svc := NewPredictionService(records, logs, artifact.NewRegistry(nil), side, pipeline(), nil, zap.NewNop())

	patients := seedPatients(t, records, 1)
	res, err := svc.PredictForUser(ctx, patients[0].User.ID)
	require.NoError(t, err)
	assert.Equal(t, 91.23, res.ModelAccuracy)
	assert.Equal(t, "2024-03-01 10:30:00", res.RetrainedAt)

	info, err := svc.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 91.23, info.ModelAccuracy)

	at := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, logs.Append(ctx, &models.ModelRetrainLog{
		Accuracy: 0.875, RetrainedAt: at, ModelVersion: "v2", ModelFamily: ml.FamilyForest, SampleCount: 10,
	}, nil))

	info, err = svc.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 87.5, info.ModelAccuracy)
	assert.Equal(t, "2024-05-02 08:00:00", info.RetrainedAt)
	assert.Equal(t, "v2", info.ModelVersion)
}

type retrainFixture struct {
	svc      *retrainService
	records  repository.PatientRecordRepository
	logs     repository.RetrainLogRepository
	store    *artifact.Store
	registry *artifact.Registry
	progress artifact.ProgressStore
	opts     RetrainOptions
}

func newRetrainFixture(t *testing.T) *retrainFixture {
	t.Helper()
	db := setupDB(t)
	store, err := artifact.NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	f := &retrainFixture{
		records:  repository.NewPatientRecordRepository(db, zap.NewNop()),
		logs:     repository.NewRetrainLogRepository(db, zap.NewNop()),
		store:    store,
		registry: artifact.NewRegistry(nil),
		progress: artifact.NewFileProgress(store.Dir()),
		opts: RetrainOptions{
			Family:       ml.FamilyForest,
			Seed:         42,
			Balance:      true,
			TestRatio:    0.2,
			HyperParams:  ml.HyperParams{Trees: 10},
			KeepVersions: 1,
		},
	}
	f.rebuild(f.logs, f.progress)
	return f
}

// rebuild swaps the service for one writing through logs and progress,
// keeping the store, registry and database.
func (f *retrainFixture) rebuild(logs repository.RetrainLogRepository, progress artifact.ProgressStore) {
	f.svc = NewRetrainService(f.records, logs, f.store, f.registry, progress,
		nil, nil, f.opts, zap.NewNop()).(*retrainService)
}

// modelState is everything a failed retrain must leave untouched.
type modelState struct {
	current     string
	accuracy    float64
	retrainedAt string
	logCount    int
	served      string
}

func (f *retrainFixture) state(t *testing.T) modelState {
	t.Helper()
	var st modelState
	var err error
	st.current, err = f.store.CurrentVersion()
	require.NoError(t, err)
	st.accuracy, err = f.store.Accuracy()
	require.NoError(t, err)
	st.retrainedAt, err = f.store.RetrainedAt()
	require.NoError(t, err)
	entries, err := f.logs.List(context.Background(), 100)
	require.NoError(t, err)
	st.logCount = len(entries)
	if m := f.registry.Current(); m != nil {
		st.served = m.Version
	}
	return st
}

type hookedProgress struct {
	artifact.ProgressStore
	onWrite func(models.Progress)
}

func (h *hookedProgress) Write(ctx context.Context, p models.Progress) error {
	h.onWrite(p)
	return h.ProgressStore.Write(ctx, p)
}

type hookedLogs struct {
	repository.RetrainLogRepository
	beforeAppend func() error
}

func (h *hookedLogs) Append(ctx context.Context, entry *models.ModelRetrainLog, commit func() error) error {
	if err := h.beforeAppend(); err != nil {
		return err
	}
	return h.RetrainLogRepository.Append(ctx, entry, commit)
}

func TestRetrainService_Retrain(t *testing.T) {
	ctx := context.Background()
	f := newRetrainFixture(t)
	seedPatients(t, f.records, 40)

	_, err := f.svc.Retrain(ctx, patient)
	assert.ErrorIs(t, err, ErrForbidden)

	res, err := f.svc.Retrain(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 40, res.SampleCount)
	assert.GreaterOrEqual(t, res.Accuracy, 90.0)
	assert.Equal(t, res.JobID, res.ModelVersion)

	m := f.registry.Current()
	require.NotNil(t, m)
	assert.Equal(t, res.ModelVersion, m.Version)

	current, err := f.store.CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, res.ModelVersion, current)

	latest, err := f.logs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.ModelVersion, latest.ModelVersion)

	progress, err := f.svc.Progress(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress.Percent)
	assert.Equal(t, 0, progress.SecondsLeft)

	job, err := f.svc.CurrentJob(admin)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	assert.ErrorIs(t, f.svc.Cancel(admin), ErrNoActiveRetrain)

	entries, err := f.svc.Logs(ctx, admin, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// A model trained on this data calls a sick record ckd.
	sick := labRecord(true)
	label, _ := m.Predict(m.Encoder().Encode(&sick))
	assert.Equal(t, diagnosis.LabelCKD, label)
}

func TestRetrainService_EmptyData(t *testing.T) {
	f := newRetrainFixture(t)

	ctx := context.Background()

	_, err := f.svc.Retrain(ctx, admin)
	assert.ErrorIs(t, err, ErrTrainingDataEmpty)
	assert.Nil(t, f.registry.Current())

	_, err = f.store.CurrentVersion()
	assert.ErrorIs(t, err, artifact.ErrNoArtifact)
	_, err = f.store.Accuracy()
	assert.ErrorIs(t, err, artifact.ErrNoArtifact)
	_, err = f.logs.Latest(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	job, err := f.svc.CurrentJob(admin)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestRetrainService_CancelledRunKeepsPreviousModel(t *testing.T) {
	ctx := context.Background()
	f := newRetrainFixture(t)
	seedPatients(t, f.records, 40)

	_, err := f.svc.Retrain(ctx, admin)
	require.NoError(t, err)
	before := f.state(t)

	f.rebuild(f.logs, &hookedProgress{
		ProgressStore: f.progress,
		onWrite: func(p models.Progress) {
			if p.Epoch == 1 {
				require.NoError(t, f.svc.Cancel(admin))
			}
		},
	})

	_, err = f.svc.Retrain(ctx, admin)
	assert.ErrorIs(t, err, ErrRetrainCancelled)
	assert.Equal(t, before, f.state(t))

	job, err := f.svc.CurrentJob(admin)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Empty(t, job.ModelVersion)
}

func TestRetrainService_FailedLogKeepsPreviousModel(t *testing.T) {
	ctx := context.Background()
	f := newRetrainFixture(t)
	seedPatients(t, f.records, 40)

	_, err := f.svc.Retrain(ctx, admin)
	require.NoError(t, err)
	before := f.state(t)

	f.rebuild(&hookedLogs{
		RetrainLogRepository: f.logs,
		beforeAppend:         func() error { return errors.New("disk full") },
	}, f.progress)

	_, err = f.svc.Retrain(ctx, admin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record retrain")
	assert.Equal(t, before, f.state(t))

	job, err := f.svc.CurrentJob(admin)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
}

func TestRetrainService_CancelAfterStagingStillCommits(t *testing.T) {
	ctx := context.Background()
	f := newRetrainFixture(t)
	seedPatients(t, f.records, 40)

	f.rebuild(&hookedLogs{
		RetrainLogRepository: f.logs,
		beforeAppend:         func() error { return f.svc.Cancel(admin) },
	}, f.progress)

	res, err := f.svc.Retrain(ctx, admin)
	require.NoError(t, err)

	st := f.state(t)
	assert.Equal(t, res.ModelVersion, st.current)
	assert.Equal(t, res.ModelVersion, st.served)
	assert.Equal(t, 1, st.logCount)

	latest, err := f.logs.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.ModelVersion, latest.ModelVersion)
}

func TestRetrainService_RejectsConcurrentRun(t *testing.T) {
	f := newRetrainFixture(t)
	f.svc.running.Lock()
	defer f.svc.running.Unlock()

	_, err := f.svc.Retrain(context.Background(), admin)
	assert.ErrorIs(t, err, ErrRetrainInProgress)
}

func TestRetrainService_NoJobYet(t *testing.T) {
	f := newRetrainFixture(t)
	_, err := f.svc.CurrentJob(admin)
	assert.ErrorIs(t, err, ErrNoActiveRetrain)
	assert.ErrorIs(t, f.svc.Cancel(patient), ErrForbidden)
}
