package ml

import (
	"context"
	"math"
	"math/rand"
)

// Forest is a bagged ensemble of CART trees with per-split feature sampling.
type Forest struct {
	Trees    []*Tree
	NTrees   int
	MaxDepth int
	MinLeaf  int
	Width    int
}

func NewForest(hp HyperParams) *Forest {
	f := &Forest{NTrees: hp.Trees, MaxDepth: hp.MaxDepth, MinLeaf: hp.MinLeaf}
	if f.NTrees <= 0 {
		f.NTrees = 100
	}
	if f.MaxDepth <= 0 {
		f.MaxDepth = 10
	}
	if f.MinLeaf <= 0 {
		f.MinLeaf = 1
	}
	return f
}

func (f *Forest) Family() string { return FamilyForest }

func (f *Forest) InputWidth() int { return f.Width }

func (f *Forest) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	maxFeatures := int(math.Max(1, math.Round(math.Sqrt(float64(width)))))
	mean := func(rows []int) float64 {
		var s float64
		for _, r := range rows {
			s += y[r]
		}
		return s / float64(len(rows))
	}

	trees := make([]*Tree, 0, f.NTrees)
	for i := 0; i < f.NTrees; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sample := make([]int, len(X))
		for j := range sample {
			sample[j] = rng.Intn(len(X))
		}
		trees = append(trees, buildTree(X, y, sample, treeParams{
			maxDepth:    f.MaxDepth,
			minLeaf:     f.MinLeaf,
			maxFeatures: maxFeatures,
			rng:         rng,
		}, mean))
		opts.step(i+1, f.NTrees)
	}

	f.Trees = trees
	f.Width = width
	return nil
}

func (f *Forest) PredictProba(x []float64) (float64, error) {
	if len(f.Trees) == 0 {
		return 0, ErrNotFitted
	}
	if err := checkInput(x, f.Width); err != nil {
		return 0, err
	}
	var sum float64
	for _, t := range f.Trees {
		sum += t.Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}
