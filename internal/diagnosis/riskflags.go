package diagnosis

import (
	"strings"

	"ckd-backend/internal/models"
)

const (
	FlagHighCreatinine = "High serum creatinine"
	FlagHighAlbumin    = "High albumin level (protein in urine)"
	FlagLowHemoglobin  = "Low hemoglobin level"
	FlagLowPCV         = "Low packed cell volume"
	FlagDiabetes       = "Has diabetes"
	FlagHypertension   = "Has hypertension"
)

// Thresholds are the clinical cut-offs of the red-flag rules.
type Thresholds struct {
	Creatinine float64 `yaml:"creatinine"`
	Albumin    float64 `yaml:"albumin"`
	Hemoglobin float64 `yaml:"hemoglobin"`
	PCV        float64 `yaml:"pcv"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Creatinine: 5.0,
		Albumin:    3,
		Hemoglobin: 9.0,
		PCV:        30,
	}
}

// RiskEvaluator produces red-flag warnings independently of any model.
type RiskEvaluator struct {
	t Thresholds
}

func NewRiskEvaluator(t Thresholds) RiskEvaluator {
	return RiskEvaluator{t: t}
}

// Evaluate checks every rule and returns the flags that fired, in rule order.
func (e RiskEvaluator) Evaluate(r *models.PatientRecord) []string {
	flags := make([]string, 0, 6)
	if r.SC >= e.t.Creatinine {
		flags = append(flags, FlagHighCreatinine)
	}
	if r.AL >= e.t.Albumin {
		flags = append(flags, FlagHighAlbumin)
	}
	if r.HEMO <= e.t.Hemoglobin {
		flags = append(flags, FlagLowHemoglobin)
	}
	if r.PCV <= e.t.PCV {
		flags = append(flags, FlagLowPCV)
	}
	if isYes(r.DM) {
		flags = append(flags, FlagDiabetes)
	}
	if isYes(r.HTN) {
		flags = append(flags, FlagHypertension)
	}
	return flags
}

func isYes(v string) bool {
	return strings.EqualFold(strings.TrimSpace(v), "yes")
}
