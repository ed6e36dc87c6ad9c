package ml

import (
	"encoding/gob"
	"fmt"
	"io"
	"time"

	"ckd-backend/internal/diagnosis"
)

func init() {
	gob.Register(&Forest{})
	gob.Register(&Boosted{})
	gob.Register(&MLP{})
	gob.Register(&Remote{})
}

type bundle struct {
	Family     string
	Schema     diagnosis.Schema
	Classifier Classifier
	Version    string
	Accuracy   float64
	TrainedAt  time.Time
}

// SaveBundle writes everything except the scaler, which is stored on its own.
func SaveBundle(w io.Writer, m *Model) error {
	if m == nil || m.Classifier == nil {
		return ErrNotFitted
	}
	b := bundle{
		Family:     m.Classifier.Family(),
		Schema:     m.Schema,
		Classifier: m.Classifier,
		Version:    m.Version,
		Accuracy:   m.Accuracy,
		TrainedAt:  m.TrainedAt,
	}
	if err := gob.NewEncoder(w).Encode(&b); err != nil {
		return fmt.Errorf("encode model bundle: %w", err)
	}
	return nil
}

// LoadBundle decodes a bundle and re-validates it against the schema registry.
func LoadBundle(r io.Reader, scaler *StandardScaler) (*Model, error) {
	var b bundle
	if err := gob.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	if b.Classifier == nil || b.Classifier.Family() != b.Family {
		return nil, fmt.Errorf("%w: bundle family %q does not match its classifier", diagnosis.ErrSchemaMismatch, b.Family)
	}
	m, err := NewModel(b.Classifier, scaler, b.Schema)
	if err != nil {
		return nil, err
	}
	m.Version = b.Version
	m.Accuracy = b.Accuracy
	m.TrainedAt = b.TrainedAt
	return m, nil
}

func SaveScaler(w io.Writer, s *StandardScaler) error {
	if err := gob.NewEncoder(w).Encode(s); err != nil {
		return fmt.Errorf("encode scaler: %w", err)
	}
	return nil
}

func LoadScaler(r io.Reader) (*StandardScaler, error) {
	var s StandardScaler
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	return &s, nil
}
