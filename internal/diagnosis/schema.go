package diagnosis

import (
	"errors"
	"fmt"
	"slices"
)

// ErrSchemaMismatch is returned when a feature schema is unknown or does not
// agree with the registered column list or the classifier's input width.
var ErrSchemaMismatch = errors.New("feature schema mismatch")

// Convention selects how categorical findings are mapped to 0/1.
type Convention string

const (
	// ConventionNormalPositive maps yes/present/good/normal to 1. Every model
	// trained by this service uses it.
	ConventionNormalPositive Convention = "normal-positive"
	// ConventionFindingPositive maps yes/present/abnormal/poor to 1. Only kept
	// so artifacts trained under it can still be served.
	ConventionFindingPositive Convention = "finding-positive"
)

// Schema versions, named by feature count.
const (
	SchemaV10 = "v10"
	SchemaV12 = "v12"
	SchemaV24 = "v24"
)

var schemaFeatures = map[string][]string{
	SchemaV10: {"age", "bp", "sg", "al", "su", "bgr", "bu", "sc", "hemo", "pcv"},
	SchemaV12: {"age", "bp", "sg", "al", "su", "bgr", "bu", "sc", "hemo", "pcv", "htn", "dm"},
	SchemaV24: {
		"age", "bp", "sg", "al", "su", "rbc", "pc", "pcc", "ba", "bgr",
		"bu", "sc", "sod", "pot", "hemo", "pcv", "wc", "rc",
		"htn", "dm", "cad", "appet", "pe", "ane",
	},
}

// Schema describes the exact column order and categorical convention a model
// was fit on. It travels with the model artifact.
type Schema struct {
	Version    string
	Features   []string
	Convention Convention
}

// CurrentSchema is the schema produced by retraining.
func CurrentSchema() Schema {
	s, _ := LookupSchema(SchemaV24, ConventionNormalPositive)
	return s
}

// LookupSchema returns the registered schema for version under convention.
func LookupSchema(version string, convention Convention) (Schema, error) {
	features, ok := schemaFeatures[version]
	if !ok {
		return Schema{}, fmt.Errorf("%w: unknown version %q", ErrSchemaMismatch, version)
	}
	s := Schema{Version: version, Features: slices.Clone(features), Convention: convention}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Width is the length of an encoded feature vector.
func (s Schema) Width() int {
	return len(s.Features)
}

// Validate checks that s is a registered schema with a known convention.
func (s Schema) Validate() error {
	features, ok := schemaFeatures[s.Version]
	if !ok {
		return fmt.Errorf("%w: unknown version %q", ErrSchemaMismatch, s.Version)
	}
	if !slices.Equal(features, s.Features) {
		return fmt.Errorf("%w: columns of %s do not match the registered order", ErrSchemaMismatch, s.Version)
	}
	if _, ok := conventions[s.Convention]; !ok {
		return fmt.Errorf("%w: unknown categorical convention %q", ErrSchemaMismatch, s.Convention)
	}
	return nil
}

// CheckWidth verifies a classifier input width against the schema.
func (s Schema) CheckWidth(width int) error {
	if width != s.Width() {
		return fmt.Errorf("%w: model expects %d features, schema %s has %d", ErrSchemaMismatch, width, s.Version, s.Width())
	}
	return nil
}
