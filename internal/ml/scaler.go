package ml

import (
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each column on its training mean and divides by the
// training standard deviation.
type StandardScaler struct {
	Mean []float64
	Std  []float64
}

// FitScaler computes column statistics over X. Constant columns get a unit
// standard deviation.
func FitScaler(X [][]float64) (*StandardScaler, error) {
	if len(X) == 0 {
		return nil, ErrEmptyDataset
	}
	width := len(X[0])
	s := &StandardScaler{Mean: make([]float64, width), Std: make([]float64, width)}
	col := make([]float64, len(X))
	for j := 0; j < width; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || std != std {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s, nil
}

func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func (s *StandardScaler) TransformBatch(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	for i, row := range X {
		out[i] = s.Transform(row)
	}
	return out
}
