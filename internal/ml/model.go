package ml

import (
	"fmt"
	"math"
	"time"

	"ckd-backend/internal/diagnosis"
)

// Model is a fitted classifier bound to the schema it was trained on.
type Model struct {
	Classifier Classifier
	Scaler     *StandardScaler
	Schema     diagnosis.Schema
	Version    string
	Accuracy   float64
	TrainedAt  time.Time

	encoder *diagnosis.Encoder
}

// NewModel checks that the classifier agrees with the schema and builds the
// matching encoder.
func NewModel(c Classifier, scaler *StandardScaler, schema diagnosis.Schema) (*Model, error) {
	if c == nil {
		return nil, ErrNotFitted
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := schema.CheckWidth(c.InputWidth()); err != nil {
		return nil, err
	}
	if NeedsScaler(c.Family()) && scaler == nil {
		return nil, fmt.Errorf("%w: %s model has no scaler", diagnosis.ErrSchemaMismatch, c.Family())
	}
	if scaler != nil && (len(scaler.Mean) != schema.Width() || len(scaler.Std) != schema.Width()) {
		return nil, fmt.Errorf("%w: scaler width %d, schema %s has %d", diagnosis.ErrSchemaMismatch, len(scaler.Mean), schema.Version, schema.Width())
	}
	enc, err := diagnosis.NewEncoder(schema)
	if err != nil {
		return nil, err
	}
	return &Model{
		Classifier: c,
		Scaler:     scaler,
		Schema:     schema,
		encoder:    enc,
	}, nil
}

func (m *Model) Family() string {
	if m == nil || m.Classifier == nil {
		return ""
	}
	return m.Classifier.Family()
}

func (m *Model) Encoder() *diagnosis.Encoder {
	if m == nil {
		return nil
	}
	return m.encoder
}

// Predict labels an encoded vector. Any failure yields ("unknown", 0).
func (m *Model) Predict(x []float64) (string, float64) {
	if m == nil || m.Classifier == nil {
		return diagnosis.LabelUnknown, 0
	}
	if m.Scaler != nil {
		if len(x) != len(m.Scaler.Mean) {
			return diagnosis.LabelUnknown, 0
		}
		x = m.Scaler.Transform(x)
	}
	p, err := m.Classifier.PredictProba(x)
	if err != nil || math.IsNaN(p) {
		return diagnosis.LabelUnknown, 0
	}
	if p >= 0.5 {
		return diagnosis.LabelCKD, p
	}
	return diagnosis.LabelNotCKD, 1 - p
}
