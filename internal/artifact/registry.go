package artifact

import (
	"sync/atomic"

	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/ml"
)

// Registry holds the model served to predictions. Readers never block; a
// retrain replaces the model with Swap.
type Registry struct {
	current atomic.Pointer[ml.Model]
}

func NewRegistry(m *ml.Model) *Registry {
	r := &Registry{}
	r.current.Store(m)
	return r
}

func (r *Registry) Current() *ml.Model {
	return r.current.Load()
}

// Model returns the current model as the pipeline sees it, or a nil interface
// when nothing is loaded.
func (r *Registry) Model() diagnosis.Model {
	if m := r.current.Load(); m != nil {
		return m
	}
	return nil
}

// Swap installs m and returns the previous model.
func (r *Registry) Swap(m *ml.Model) *ml.Model {
	return r.current.Swap(m)
}
