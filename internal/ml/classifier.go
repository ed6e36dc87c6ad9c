package ml

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFitted     = errors.New("classifier is not fitted")
	ErrEmptyDataset  = errors.New("dataset is empty")
	ErrWidthMismatch = errors.New("feature vector width mismatch")
	ErrUnknownFamily = errors.New("unknown model family")
)

// Model families.
const (
	FamilyForest = "forest"
	FamilyMLP    = "mlp"
	FamilyGBT    = "gbt"
	FamilyRemote = "remote"
)

// Classifier is the capability every model family implements. Labels are 1
// for ckd and 0 for notckd; PredictProba returns P(ckd).
type Classifier interface {
	Family() string
	Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error
	PredictProba(x []float64) (float64, error)
	InputWidth() int
}

// FitOptions carries the run-level knobs shared by every family.
type FitOptions struct {
	Seed int64
	// OnStep is called after every tree, epoch or boosting round.
	OnStep func(step, total int)
}

func (o FitOptions) step(step, total int) {
	if o.OnStep != nil {
		o.OnStep(step, total)
	}
}

// HyperParams configures a new classifier. Zero values fall back to the
// family defaults.
type HyperParams struct {
	Trees        int     `yaml:"trees"`
	MaxDepth     int     `yaml:"max_depth"`
	MinLeaf      int     `yaml:"min_leaf"`
	Rounds       int     `yaml:"rounds"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	BatchSize    int     `yaml:"batch_size"`
	Hidden       []int   `yaml:"hidden"`
	RemoteURL    string  `yaml:"remote_url"`
}

type factory func(hp HyperParams) Classifier

var factories = map[string]factory{
	FamilyForest: func(hp HyperParams) Classifier { return NewForest(hp) },
	FamilyMLP:    func(hp HyperParams) Classifier { return NewMLP(hp) },
	FamilyGBT:    func(hp HyperParams) Classifier { return NewBoosted(hp) },
	FamilyRemote: func(hp HyperParams) Classifier { return NewRemote(hp.RemoteURL) },
}

// New returns an unfitted classifier of the given family.
func New(family string, hp HyperParams) (Classifier, error) {
	f, ok := factories[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return f(hp), nil
}

// Families lists the registered family names.
func Families() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NeedsScaler reports whether a family is fit on standardised features.
func NeedsScaler(family string) bool {
	return family == FamilyMLP
}

func checkTrainingSet(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("%d rows but %d labels", len(X), len(y))
	}
	width := len(X[0])
	for i, row := range X {
		if len(row) != width {
			return 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrWidthMismatch, i, len(row), width)
		}
	}
	return width, nil
}

func checkInput(x []float64, width int) error {
	if width == 0 {
		return ErrNotFitted
	}
	if len(x) != width {
		return fmt.Errorf("%w: got %d, want %d", ErrWidthMismatch, len(x), width)
	}
	return nil
}
