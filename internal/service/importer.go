package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"ckd-backend/internal/models"
	"ckd-backend/internal/repository"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ImportResult struct {
	Imported int `json:"imported"`
}

// ImportService replaces the whole patient dataset from a CSV or XLSX file.
// Row N becomes user patient<N> whose password is its username.
type ImportService interface {
	Import(ctx context.Context, actor Actor, filename string, r io.Reader) (*ImportResult, error)
}

type importService struct {
	records repository.PatientRecordRepository
	hasher  *PasswordHasher
	logger  *zap.Logger
}

func NewImportService(records repository.PatientRecordRepository, hasher *PasswordHasher, logger *zap.Logger) ImportService {
	return &importService{records: records, hasher: hasher, logger: logger}
}

func (s *importService) Import(ctx context.Context, actor Actor, filename string, r io.Reader) (*ImportResult, error) {
	if !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	rows, err := readRows(filename, r)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows", ErrInvalidImport)
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}

	patients := make([]repository.ImportedPatient, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := parseRecord(header, row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidImport, i+2, err)
		}
		username := fmt.Sprintf("patient%d", i+1)
		patients = append(patients, repository.ImportedPatient{
			User: models.User{
				Username: username,
				Email:    username + "@email.com",
				Role:     models.RolePatient,
			},
			Record: *rec,
		})
	}

	if err := s.hashPasswords(ctx, patients); err != nil {
		return nil, err
	}

	if err := s.records.ReplaceAll(ctx, patients); err != nil {
		s.logger.Error("Failed to import patient data", zap.Error(err))
		return nil, fmt.Errorf("failed to import patient data: %w", err)
	}

	s.logger.Info("Successfully re-imported all patient data", zap.Int("patients", len(patients)))
	return &ImportResult{Imported: len(patients)}, nil
}

func (s *importService) hashPasswords(ctx context.Context, patients []repository.ImportedPatient) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range patients {
		u := &patients[i].User
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := s.hasher.Hash(u.Username)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}
			u.PasswordHash = hash
			return nil
		})
	}
	return g.Wait()
}

func readRows(filename string, r io.Reader) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true
		rows, err := reader.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
		return rows, nil
	case ".xlsx":
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse Excel file: %v", ErrInvalidImport, err)
		}
		defer f.Close()

		sheet := f.GetSheetName(0)
		if sheet == "" {
			return nil, fmt.Errorf("%w: Excel file has no sheets", ErrInvalidImport)
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read rows: %v", ErrInvalidImport, err)
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrInvalidImport, filepath.Ext(filename))
	}
}

type rowReader struct {
	header map[string]int
	row    []string
	err    error
}

func (rr *rowReader) text(col, fallback string) string {
	i, ok := rr.header[col]
	if !ok || i >= len(rr.row) {
		return fallback
	}
	v := strings.ToLower(strings.TrimSpace(rr.row[i]))
	if v == "" || v == "?" {
		return fallback
	}
	return v
}

func (rr *rowReader) number(col string) float64 {
	v := rr.text(col, "")
	if v == "" || rr.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		rr.err = fmt.Errorf("column %s: %q is not a number", col, v)
		return 0
	}
	return f
}

func parseRecord(header map[string]int, row []string) (*models.PatientRecord, error) {
	rr := &rowReader{header: header, row: row}
	rec := &models.PatientRecord{
		Age:            rr.number("age"),
		BP:             rr.number("bp"),
		SG:             rr.number("sg"),
		AL:             rr.number("al"),
		SU:             rr.number("su"),
		RBC:            rr.text("rbc", "normal"),
		PC:             rr.text("pc", "normal"),
		PCC:            rr.text("pcc", "notpresent"),
		BA:             rr.text("ba", "notpresent"),
		BGR:            rr.number("bgr"),
		BU:             rr.number("bu"),
		SC:             rr.number("sc"),
		SOD:            rr.number("sod"),
		POT:            rr.number("pot"),
		HEMO:           rr.number("hemo"),
		PCV:            rr.number("pcv"),
		WC:             rr.number("wc"),
		RC:             rr.number("rc"),
		HTN:            rr.text("htn", "no"),
		DM:             rr.text("dm", "no"),
		CAD:            rr.text("cad", "no"),
		Appet:          rr.text("appet", "good"),
		PE:             rr.text("pe", "no"),
		ANE:            rr.text("ane", "no"),
		Classification: rr.text("classification", "ckd"),
		Smoker:         rr.text("smoker", "no"),
		CKDStage:       rr.text("ckd_stage", "early"),
	}
	if rr.err != nil {
		return nil, rr.err
	}
	return rec, nil
}
