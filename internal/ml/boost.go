package ml

import (
	"context"
	"math"
)

// Boosted is a gradient-boosted ensemble of regression trees under logistic
// loss. Leaves hold Newton steps in log-odds space.
type Boosted struct {
	Trees        []*Tree
	Base         float64
	Rounds       int
	LearningRate float64
	MaxDepth     int
	MinLeaf      int
	Width        int
}

func NewBoosted(hp HyperParams) *Boosted {
	b := &Boosted{Rounds: hp.Rounds, LearningRate: hp.LearningRate, MaxDepth: hp.MaxDepth, MinLeaf: hp.MinLeaf}
	if b.Rounds <= 0 {
		b.Rounds = 100
	}
	if b.LearningRate <= 0 {
		b.LearningRate = 0.1
	}
	if b.MaxDepth <= 0 {
		b.MaxDepth = 3
	}
	if b.MinLeaf <= 0 {
		b.MinLeaf = 2
	}
	return b
}

func (b *Boosted) Family() string { return FamilyGBT }

func (b *Boosted) InputWidth() int { return b.Width }

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func (b *Boosted) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	var pos float64
	for _, v := range y {
		pos += v
	}
	prior := clamp(pos/float64(len(y)), 1e-6, 1-1e-6)
	base := math.Log(prior / (1 - prior))

	score := make([]float64, len(X))
	for i := range score {
		score[i] = base
	}
	rows := make([]int, len(X))
	for i := range rows {
		rows[i] = i
	}

	residual := make([]float64, len(X))
	hessian := make([]float64, len(X))
	newton := func(rows []int) float64 {
		var g, h float64
		for _, r := range rows {
			g += residual[r]
			h += hessian[r]
		}
		if h < 1e-12 {
			return 0
		}
		return g / h
	}

	trees := make([]*Tree, 0, b.Rounds)
	for round := 0; round < b.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range X {
			p := sigmoid(score[i])
			residual[i] = y[i] - p
			hessian[i] = p * (1 - p)
		}
		t := buildTree(X, residual, rows, treeParams{maxDepth: b.MaxDepth, minLeaf: b.MinLeaf}, newton)
		for i := range X {
			score[i] += b.LearningRate * t.Predict(X[i])
		}
		trees = append(trees, t)
		opts.step(round+1, b.Rounds)
	}

	b.Trees = trees
	b.Base = base
	b.Width = width
	return nil
}

func (b *Boosted) PredictProba(x []float64) (float64, error) {
	if len(b.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if err := checkInput(x, b.Width); err != nil {
		return 0, err
	}
	score := b.Base
	for _, t := range b.Trees {
		score += b.LearningRate * t.Predict(x)
	}
	return sigmoid(score), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
