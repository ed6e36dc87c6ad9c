package ml

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// Remote delegates fitting and inference to an external model service. Only
// the service address and the returned model id are persisted.
type Remote struct {
	BaseURL string
	ModelID string
	Width   int

	once   sync.Once
	client *resty.Client
}

func NewRemote(baseURL string) *Remote {
	return &Remote{BaseURL: baseURL}
}

type trainRequest struct {
	Features [][]float64 `json:"features"`
	Labels   []float64   `json:"labels"`
}

type trainResponse struct {
	ModelID string `json:"model_id"`
}

type predictRequest struct {
	ModelID  string    `json:"model_id"`
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Probability float64 `json:"probability"`
}

type remoteError struct {
	Error string `json:"error"`
}

func (r *Remote) Family() string { return FamilyRemote }

func (r *Remote) InputWidth() int { return r.Width }

func (r *Remote) rest() *resty.Client {
	r.once.Do(func() {
		r.client = resty.New().
			SetBaseURL(r.BaseURL).
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json")
	})
	return r.client
}

func (r *Remote) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if r.BaseURL == "" {
		return fmt.Errorf("remote model service url is not configured")
	}

	var out trainResponse
	var apiErr remoteError
	resp, err := r.rest().R().
		SetContext(ctx).
		SetBody(trainRequest{Features: X, Labels: y}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/train")
	if err != nil {
		return fmt.Errorf("failed to send train request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("model service returned status %d: %s", resp.StatusCode(), apiErr.Error)
	}
	if out.ModelID == "" {
		return fmt.Errorf("model service returned an empty model id")
	}

	r.ModelID = out.ModelID
	r.Width = width
	opts.step(1, 1)
	return nil
}

func (r *Remote) PredictProba(x []float64) (float64, error) {
	if r.ModelID == "" {
		return 0, ErrNotFitted
	}
	if err := checkInput(x, r.Width); err != nil {
		return 0, err
	}

	var out predictResponse
	var apiErr remoteError
	resp, err := r.rest().R().
		SetBody(predictRequest{ModelID: r.ModelID, Features: x}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/predict")
	if err != nil {
		return 0, fmt.Errorf("failed to send predict request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("model service returned status %d: %s", resp.StatusCode(), apiErr.Error)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("model service returned probability %v outside [0,1]", out.Probability)
	}
	return out.Probability, nil
}
