package diagnosis

// Verdict labels.
const (
	LabelCKD     = "ckd"
	LabelNotCKD  = "notckd"
	LabelUnknown = "unknown"
)

const DefaultMinFlags = 3

// OverridePolicy flips a non-positive model call to ckd once MinFlags red
// flags have fired. It favours false positives over missed disease.
type OverridePolicy struct {
	MinFlags int
}

func DefaultOverridePolicy() OverridePolicy {
	return OverridePolicy{MinFlags: DefaultMinFlags}
}

// Verdict is the outcome of the override step.
type Verdict struct {
	Final        string
	ModelOpinion string
	Overridden   bool
}

// Decide combines the model label with the red-flag count.
func (p OverridePolicy) Decide(modelLabel string, flagCount int) Verdict {
	v := Verdict{Final: modelLabel, ModelOpinion: modelLabel}
	if (modelLabel == LabelNotCKD || modelLabel == LabelUnknown) && flagCount >= p.MinFlags {
		v.Final = LabelCKD
		v.Overridden = true
	}
	return v
}
