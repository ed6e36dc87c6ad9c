package ml

import (
	"math"
	"math/rand"
	"strings"

	"ckd-backend/internal/diagnosis"
	"ckd-backend/internal/models"
)

// Upsample duplicates randomly chosen minority-class rows until both classes
// have the same count. Single-class input is returned unchanged.
func Upsample(X [][]float64, y []float64, rng *rand.Rand) ([][]float64, []float64) {
	var pos, neg []int
	for i, v := range y {
		if v >= 0.5 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) == 0 || len(neg) == 0 || len(pos) == len(neg) {
		return X, y
	}

	minority, deficit := pos, len(neg)-len(pos)
	if len(neg) < len(pos) {
		minority, deficit = neg, len(pos)-len(neg)
	}

	outX := make([][]float64, len(X), len(X)+deficit)
	outY := make([]float64, len(y), len(y)+deficit)
	copy(outX, X)
	copy(outY, y)
	for i := 0; i < deficit; i++ {
		r := minority[rng.Intn(len(minority))]
		outX = append(outX, X[r])
		outY = append(outY, y[r])
	}
	return outX, outY
}

// Split shuffles rows and holds out testRatio of them. With two or more rows
// both sides get at least one.
func Split(X [][]float64, y []float64, testRatio float64, rng *rand.Rand) (trainX [][]float64, trainY []float64, testX [][]float64, testY []float64) {
	n := len(X)
	idx := rng.Perm(n)

	nTest := int(math.Round(float64(n) * testRatio))
	if n >= 2 {
		nTest = max(1, min(nTest, n-1))
	} else {
		nTest = 0
	}

	for k, i := range idx {
		if k < nTest {
			testX = append(testX, X[i])
			testY = append(testY, y[i])
		} else {
			trainX = append(trainX, X[i])
			trainY = append(trainY, y[i])
		}
	}
	return trainX, trainY, testX, testY
}

// Accuracy is the fraction of rows the model labels correctly. An empty test
// set scores 0.
func Accuracy(m *Model, X [][]float64, y []float64) float64 {
	if len(X) == 0 {
		return 0
	}
	var hits int
	for i, row := range X {
		label, _ := m.Predict(row)
		if (label == diagnosis.LabelCKD) == (y[i] >= 0.5) {
			hits++
		}
	}
	return float64(hits) / float64(len(X))
}

// TrainingSet encodes the records usable for training. Rows with an unknown
// classification or an incomplete schema column are skipped and counted.
func TrainingSet(enc *diagnosis.Encoder, records []models.PatientRecord) (X [][]float64, y []float64, dropped int) {
	for i := range records {
		r := &records[i]
		var label float64
		switch strings.ToLower(strings.TrimSpace(r.Classification)) {
		case diagnosis.LabelCKD:
			label = 1
		case diagnosis.LabelNotCKD:
			label = 0
		default:
			dropped++
			continue
		}
		if !enc.Complete(r) {
			dropped++
			continue
		}
		X = append(X, enc.Encode(r))
		y = append(y, label)
	}
	return X, y, dropped
}
