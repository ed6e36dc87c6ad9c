package ml

import (
	"context"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Layer is a dense layer with weights stored row-major as [out][in].
type Layer struct {
	W [][]float64
	B []float64
}

// MLP is a feed-forward network with ReLU hidden layers and a single sigmoid
// output, trained with Adam on binary cross-entropy. It expects standardised
// inputs.
type MLP struct {
	Layers       []Layer
	Hidden       []int
	Epochs       int
	BatchSize    int
	LearningRate float64
	Width        int
}

func NewMLP(hp HyperParams) *MLP {
	m := &MLP{Hidden: hp.Hidden, Epochs: hp.Epochs, BatchSize: hp.BatchSize, LearningRate: hp.LearningRate}
	if len(m.Hidden) == 0 {
		m.Hidden = []int{16, 8}
	}
	if m.Epochs <= 0 {
		m.Epochs = 100
	}
	if m.BatchSize <= 0 {
		m.BatchSize = 32
	}
	if m.LearningRate <= 0 {
		m.LearningRate = 0.01
	}
	return m
}

func (m *MLP) Family() string { return FamilyMLP }

func (m *MLP) InputWidth() int { return m.Width }

func (m *MLP) init(width int, rng *rand.Rand) {
	sizes := append(append([]int{width}, m.Hidden...), 1)
	m.Layers = make([]Layer, len(sizes)-1)
	for l := range m.Layers {
		in, out := sizes[l], sizes[l+1]
		scale := math.Sqrt(2 / float64(in))
		w := make([][]float64, out)
		for o := range w {
			w[o] = make([]float64, in)
			for i := range w[o] {
				w[o][i] = rng.NormFloat64() * scale
			}
		}
		m.Layers[l] = Layer{W: w, B: make([]float64, out)}
	}
	m.Width = width
}

// forward returns the activations of every layer, input first.
func (m *MLP) forward(x []float64) [][]float64 {
	acts := make([][]float64, len(m.Layers)+1)
	acts[0] = x
	for l, layer := range m.Layers {
		out := make([]float64, len(layer.B))
		last := l == len(m.Layers)-1
		for o, w := range layer.W {
			z := floats.Dot(w, acts[l]) + layer.B[o]
			if last {
				out[o] = sigmoid(z)
			} else {
				out[o] = math.Max(0, z)
			}
		}
		acts[l+1] = out
	}
	return acts
}

type adamState struct {
	beta1, beta2, eps float64
	t                 int
	mW, vW            [][][]float64
	mB, vB            [][]float64
}

func newAdam(layers []Layer) *adamState {
	a := &adamState{beta1: 0.9, beta2: 0.999, eps: 1e-8}
	a.mW, a.vW = zerosW(layers), zerosW(layers)
	a.mB, a.vB = zerosB(layers), zerosB(layers)
	return a
}

func zerosW(layers []Layer) [][][]float64 {
	out := make([][][]float64, len(layers))
	for l, layer := range layers {
		out[l] = make([][]float64, len(layer.W))
		for o := range layer.W {
			out[l][o] = make([]float64, len(layer.W[o]))
		}
	}
	return out
}

func zerosB(layers []Layer) [][]float64 {
	out := make([][]float64, len(layers))
	for l, layer := range layers {
		out[l] = make([]float64, len(layer.B))
	}
	return out
}

func (a *adamState) update(param, grad, m, v []float64, lr float64) {
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		m[i] = a.beta1*m[i] + (1-a.beta1)*g
		v[i] = a.beta2*v[i] + (1-a.beta2)*g*g
		param[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
	}
}

func (m *MLP) Fit(ctx context.Context, X [][]float64, y []float64, opts FitOptions) error {
	width, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	m.init(width, rng)
	adam := newAdam(m.Layers)
	gW, gB := zerosW(m.Layers), zerosB(m.Layers)

	for epoch := 0; epoch < m.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		order := rng.Perm(len(X))
		for start := 0; start < len(order); start += m.BatchSize {
			end := min(start+m.BatchSize, len(order))
			m.accumulate(X, y, order[start:end], gW, gB)

			adam.t++
			for l := range m.Layers {
				for o := range m.Layers[l].W {
					adam.update(m.Layers[l].W[o], gW[l][o], adam.mW[l][o], adam.vW[l][o], m.LearningRate)
				}
				adam.update(m.Layers[l].B, gB[l], adam.mB[l], adam.vB[l], m.LearningRate)
			}
		}
		opts.step(epoch+1, m.Epochs)
	}
	return nil
}

// accumulate overwrites gW and gB with the mean gradient over batch.
func (m *MLP) accumulate(X [][]float64, y []float64, batch []int, gW [][][]float64, gB [][]float64) {
	for l := range gW {
		for o := range gW[l] {
			floats.Scale(0, gW[l][o])
		}
		floats.Scale(0, gB[l])
	}

	n := float64(len(batch))
	for _, r := range batch {
		acts := m.forward(X[r])
		last := len(m.Layers) - 1
		delta := []float64{acts[last+1][0] - y[r]}

		for l := last; l >= 0; l-- {
			for o, d := range delta {
				floats.AddScaled(gW[l][o], d/n, acts[l])
				gB[l][o] += d / n
			}
			if l == 0 {
				break
			}
			prev := make([]float64, len(acts[l]))
			for o, d := range delta {
				floats.AddScaled(prev, d, m.Layers[l].W[o])
			}
			for i := range prev {
				if acts[l][i] <= 0 {
					prev[i] = 0
				}
			}
			delta = prev
		}
	}
}

func (m *MLP) PredictProba(x []float64) (float64, error) {
	if len(m.Layers) == 0 {
		return 0, ErrNotFitted
	}
	if err := checkInput(x, m.Width); err != nil {
		return 0, err
	}
	acts := m.forward(x)
	return acts[len(acts)-1][0], nil
}
