package models

import "time"

// Retrain job status values.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Progress is the polled side channel of a long-running fit.
type Progress struct {
	Epoch       int     `json:"epoch"`
	Percent     float64 `json:"percent"`
	SecondsLeft int     `json:"seconds_left"`
}

// RetrainJob is the in-process handle of one retrain run.
type RetrainJob struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Family       string     `json:"family"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ModelVersion string     `json:"model_version,omitempty"`
	Accuracy     *float64   `json:"accuracy,omitempty"`
	Progress     Progress   `json:"progress"`
}
