package models

import "time"

// ModelRetrainLog records one successful retrain run. Entries are never updated.
type ModelRetrainLog struct {
	ID           int64     `db:"id" json:"id"`
	Accuracy     float64   `db:"accuracy" json:"accuracy"`
	RetrainedAt  time.Time `db:"retrained_at" json:"retrained_at"`
	ModelVersion string    `db:"model_version" json:"model_version"`
	ModelFamily  string    `db:"model_family" json:"model_family"`
	SampleCount  int       `db:"sample_count" json:"sample_count"`
}
