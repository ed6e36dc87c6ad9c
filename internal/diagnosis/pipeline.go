package diagnosis

import "ckd-backend/internal/models"

// Model is the view of a loaded classifier the pipeline needs. A nil Model
// means no artifact is available.
type Model interface {
	Encoder() *Encoder
	Predict(features []float64) (label string, confidence float64)
}

// Assessment is the full outcome of evaluating one record.
type Assessment struct {
	Prediction     string
	ModelOpinion   string
	Stage          Stage
	Recommendation string
	Confidence     float64
	RiskFlags      []string
	Overridden     bool
}

// Pipeline runs encode, predict, override and recommend for one record.
type Pipeline struct {
	risk   RiskEvaluator
	policy OverridePolicy
}

func NewPipeline(risk RiskEvaluator, policy OverridePolicy) *Pipeline {
	return &Pipeline{risk: risk, policy: policy}
}

// Evaluate never fails: a missing model yields an "unknown" opinion with zero
// confidence, which the override policy may still turn into ckd.
func (p *Pipeline) Evaluate(model Model, r *models.PatientRecord) Assessment {
	label, confidence := LabelUnknown, 0.0
	if model != nil {
		if enc := model.Encoder(); enc != nil {
			label, confidence = model.Predict(enc.Encode(r))
		}
	}

	stage := StageFor(r.SC)
	flags := p.risk.Evaluate(r)
	verdict := p.policy.Decide(label, len(flags))

	return Assessment{
		Prediction:     verdict.Final,
		ModelOpinion:   verdict.ModelOpinion,
		Stage:          stage,
		Recommendation: Recommend(verdict.Final, stage),
		Confidence:     confidence,
		RiskFlags:      flags,
		Overridden:     verdict.Overridden,
	}
}
