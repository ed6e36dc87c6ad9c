package diagnosis

import (
	"fmt"
	"math"
	"strings"

	"ckd-backend/internal/models"
)

var conventions = map[Convention]map[string]float64{
	ConventionNormalPositive: {
		"yes": 1, "present": 1, "good": 1, "normal": 1,
		"no": 0, "notpresent": 0, "poor": 0, "abnormal": 0,
	},
	ConventionFindingPositive: {
		"yes": 1, "present": 1, "abnormal": 1, "poor": 1,
		"no": 0, "notpresent": 0, "good": 0, "normal": 0,
	},
}

// Encode maps a raw categorical value to 0 or 1. Unrecognised values,
// including the empty string, encode as 0.
func (c Convention) Encode(value string) float64 {
	return conventions[c][strings.ToLower(strings.TrimSpace(value))]
}

// EncodeCategorical encodes value with the canonical convention.
func EncodeCategorical(value string) float64 {
	return ConventionNormalPositive.Encode(value)
}

type column struct {
	numeric     func(r *models.PatientRecord) float64
	categorical func(r *models.PatientRecord) string
}

var columns = map[string]column{
	"age":   {numeric: func(r *models.PatientRecord) float64 { return r.Age }},
	"bp":    {numeric: func(r *models.PatientRecord) float64 { return r.BP }},
	"sg":    {numeric: func(r *models.PatientRecord) float64 { return r.SG }},
	"al":    {numeric: func(r *models.PatientRecord) float64 { return r.AL }},
	"su":    {numeric: func(r *models.PatientRecord) float64 { return r.SU }},
	"bgr":   {numeric: func(r *models.PatientRecord) float64 { return r.BGR }},
	"bu":    {numeric: func(r *models.PatientRecord) float64 { return r.BU }},
	"sc":    {numeric: func(r *models.PatientRecord) float64 { return r.SC }},
	"sod":   {numeric: func(r *models.PatientRecord) float64 { return r.SOD }},
	"pot":   {numeric: func(r *models.PatientRecord) float64 { return r.POT }},
	"hemo":  {numeric: func(r *models.PatientRecord) float64 { return r.HEMO }},
	"pcv":   {numeric: func(r *models.PatientRecord) float64 { return r.PCV }},
	"wc":    {numeric: func(r *models.PatientRecord) float64 { return r.WC }},
	"rc":    {numeric: func(r *models.PatientRecord) float64 { return r.RC }},
	"rbc":   {categorical: func(r *models.PatientRecord) string { return r.RBC }},
	"pc":    {categorical: func(r *models.PatientRecord) string { return r.PC }},
	"pcc":   {categorical: func(r *models.PatientRecord) string { return r.PCC }},
	"ba":    {categorical: func(r *models.PatientRecord) string { return r.BA }},
	"htn":   {categorical: func(r *models.PatientRecord) string { return r.HTN }},
	"dm":    {categorical: func(r *models.PatientRecord) string { return r.DM }},
	"cad":   {categorical: func(r *models.PatientRecord) string { return r.CAD }},
	"appet": {categorical: func(r *models.PatientRecord) string { return r.Appet }},
	"pe":    {categorical: func(r *models.PatientRecord) string { return r.PE }},
	"ane":   {categorical: func(r *models.PatientRecord) string { return r.ANE }},
}

// Encoder turns patient records into feature vectors for one schema.
type Encoder struct {
	schema Schema
	cols   []column
}

// NewEncoder builds an encoder for s. The schema must validate.
func NewEncoder(s Schema) (*Encoder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cols := make([]column, 0, len(s.Features))
	for _, name := range s.Features {
		col, ok := columns[name]
		if !ok {
			return nil, fmt.Errorf("%w: no column %q", ErrSchemaMismatch, name)
		}
		cols = append(cols, col)
	}
	return &Encoder{schema: s, cols: cols}, nil
}

func (e *Encoder) Schema() Schema {
	return e.schema
}

// Encode returns r's features in schema column order.
func (e *Encoder) Encode(r *models.PatientRecord) []float64 {
	out := make([]float64, len(e.cols))
	for i, col := range e.cols {
		if col.categorical != nil {
			out[i] = e.schema.Convention.Encode(col.categorical(r))
			continue
		}
		out[i] = col.numeric(r)
	}
	return out
}

func (e *Encoder) EncodeBatch(records []*models.PatientRecord) [][]float64 {
	out := make([][]float64, len(records))
	for i, r := range records {
		out[i] = e.Encode(r)
	}
	return out
}

// Complete reports whether every column of the schema is usable for training:
// numeric values are finite and categorical values are non-empty.
func (e *Encoder) Complete(r *models.PatientRecord) bool {
	for _, col := range e.cols {
		if col.categorical != nil {
			if strings.TrimSpace(col.categorical(r)) == "" {
				return false
			}
			continue
		}
		v := col.numeric(r)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
