package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"ckd-backend/internal/ml"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoArtifact is returned when no model has been activated yet or a sidecar
// file is missing.
var ErrNoArtifact = errors.New("no model artifact")

const (
	versionsDir     = "versions"
	currentFile     = "CURRENT"
	modelFile       = "model.bin"
	scalerFile      = "scaler.bin"
	accuracyFile    = "model_accuracy.txt"
	retrainedAtFile = "retrained_at.txt"

	// TimestampLayout is the format of retrained_at.txt.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Store keeps versioned model bundles under a directory. CURRENT names the
// active version and is only ever replaced by rename.
type Store struct {
	dir    string
	logger *zap.Logger
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, versionsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) Dir() string { return s.dir }

// Staged is a fully written version that is not yet active.
type Staged struct {
	store     *Store
	version   string
	accuracy  float64
	trainedAt time.Time
	activated bool
}

func (st *Staged) Version() string { return st.version }

// Stage writes m into a fresh version directory. A model without a version is
// given a random one.
func (s *Store) Stage(m *ml.Model) (*Staged, error) {
	if m == nil {
		return nil, ml.ErrNotFitted
	}
	if m.Version == "" {
		m.Version = uuid.NewString()
	}
	dir := filepath.Join(s.dir, versionsDir, m.Version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create version dir: %w", err)
	}

	var buf bytes.Buffer
	if err := ml.SaveBundle(&buf, m); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	if err := writeAtomic(filepath.Join(dir, modelFile), buf.Bytes()); err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	if m.Scaler != nil {
		buf.Reset()
		if err := ml.SaveScaler(&buf, m.Scaler); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
		if err := writeAtomic(filepath.Join(dir, scalerFile), buf.Bytes()); err != nil {
			_ = os.RemoveAll(dir)
			return nil, err
		}
	}

	return &Staged{store: s, version: m.Version, accuracy: m.Accuracy, trainedAt: m.TrainedAt}, nil
}

// Activate flips CURRENT to the staged version and rewrites the sidecars.
// Sidecar failures are logged; the model itself is already active.
func (st *Staged) Activate() error {
	s := st.store
	if err := writeAtomic(filepath.Join(s.dir, currentFile), []byte(st.version+"\n")); err != nil {
		return fmt.Errorf("activate version %s: %w", st.version, err)
	}
	st.activated = true

	acc := strconv.FormatFloat(st.accuracy, 'f', -1, 64)
	if err := writeAtomic(filepath.Join(s.dir, accuracyFile), []byte(acc)); err != nil {
		s.logger.Warn("Failed to write accuracy sidecar", zap.String("version", st.version), zap.Error(err))
	}
	ts := st.trainedAt.UTC().Format(TimestampLayout)
	if err := writeAtomic(filepath.Join(s.dir, retrainedAtFile), []byte(ts)); err != nil {
		s.logger.Warn("Failed to write retrained_at sidecar", zap.String("version", st.version), zap.Error(err))
	}
	return nil
}

// Discard removes a staged version that was never activated.
func (st *Staged) Discard() {
	if st.activated {
		return
	}
	if err := os.RemoveAll(filepath.Join(st.store.dir, versionsDir, st.version)); err != nil {
		st.store.logger.Warn("Failed to remove staged version", zap.String("version", st.version), zap.Error(err))
	}
}

// CurrentVersion returns the active version name.
func (s *Store) CurrentVersion() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, currentFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoArtifact
	}
	if err != nil {
		return "", fmt.Errorf("read current version: %w", err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" || strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
		return "", fmt.Errorf("%w: invalid CURRENT pointer %q", ErrNoArtifact, v)
	}
	return v, nil
}

// LoadCurrent decodes the active model. Schema problems surface as
// diagnosis.ErrSchemaMismatch.
func (s *Store) LoadCurrent() (*ml.Model, error) {
	version, err := s.CurrentVersion()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(s.dir, versionsDir, version)

	var scaler *ml.StandardScaler
	if f, err := os.Open(filepath.Join(dir, scalerFile)); err == nil {
		scaler, err = ml.LoadScaler(f)
		f.Close()
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open scaler: %w", err)
	}

	f, err := os.Open(filepath.Join(dir, modelFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: version %s has no model file", ErrNoArtifact, version)
	}
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	m, err := ml.LoadBundle(f, scaler)
	if err != nil {
		return nil, err
	}
	if m.Version == "" {
		m.Version = version
	}
	return m, nil
}

// Accuracy reads model_accuracy.txt.
func (s *Store) Accuracy() (float64, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, accuracyFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoArtifact
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse accuracy sidecar: %w", err)
	}
	return v, nil
}

// RetrainedAt reads retrained_at.txt verbatim.
func (s *Store) RetrainedAt() (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, retrainedAtFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoArtifact
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Prune removes every version directory except the active one and the keep
// most recently modified others.
func (s *Store) Prune(keep int) error {
	current, err := s.CurrentVersion()
	if err != nil && !errors.Is(err, ErrNoArtifact) {
		return err
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, versionsDir))
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}

	type version struct {
		name string
		mod  time.Time
	}
	var others []version
	for _, e := range entries {
		if !e.IsDir() || e.Name() == current {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		others = append(others, version{name: e.Name(), mod: info.ModTime()})
	}
	sort.Slice(others, func(i, j int) bool { return others[i].mod.After(others[j].mod) })
	for i := keep; i < len(others); i++ {
		if err := os.RemoveAll(filepath.Join(s.dir, versionsDir, others[i].name)); err != nil {
			return fmt.Errorf("remove version %s: %w", others[i].name, err)
		}
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
