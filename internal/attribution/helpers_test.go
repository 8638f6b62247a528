package attribution

import (
	"math"
	"math/rand/v2"
	"testing"

	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"github.com/stretchr/testify/require"
)

// blackBox hides the margin of a model so only probabilities are visible.
type blackBox struct {
	model.Predictor
}

// interaction is a non-additive probability model: sigmoid(3·x0·x1 − x2).
type interaction struct{}

func (interaction) PredictProba(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, x := range rows {
		p := 1 / (1 + math.Exp(-(3*x[0]*x[1] - x[2])))
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

func (m interaction) Predict(rows [][]float64) ([]float64, error) {
	probs, _ := m.PredictProba(rows)
	out := make([]float64, len(probs))
	for i, p := range probs {
		if p[1] > 0.5 {
			out[i] = 1
		}
	}
	return out, nil
}

// smallLinear is 0.5 + 0.3·a − 0.1·b.
func smallLinear() *model.LinearModel {
	return &model.LinearModel{Weights: []float64{0.3, -0.1}, Intercept: 0.5, Link: model.LinkIdentity}
}

func randomRows(seed uint64, n, p int) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, 99))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, p)
		for j := range rows[i] {
			rows[i][j] = rng.Float64()
		}
	}
	return rows
}

// twoTrees is a mean ensemble over three features that splits on features 0 and 2
// twice along some paths.
func twoTrees() *model.TreeEnsemble {
	return &model.TreeEnsemble{
		Aggregation: model.AggregateMean,
		BaseScore:   0.25,
		Link:        model.LinkIdentity,
		Trees: []model.Tree{
			{Nodes: []model.Node{
				{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
				{Feature: 1, Threshold: 0.3, Left: 3, Right: 4},
				{Feature: 0, Threshold: 0.8, Left: 5, Right: 6},
				{Feature: -1, Value: 1},
				{Feature: 2, Threshold: 0.6, Left: 7, Right: 8},
				{Feature: -1, Value: -2},
				{Feature: 1, Threshold: 0.7, Left: 9, Right: 10},
				{Feature: -1, Value: 0.5},
				{Feature: -1, Value: 4},
				{Feature: -1, Value: 2.5},
				{Feature: -1, Value: -1},
			}},
			{Nodes: []model.Node{
				{Feature: 2, Threshold: 0.5, Left: 1, Right: 2},
				{Feature: -1, Value: 1},
				{Feature: 0, Threshold: 0.2, Left: 3, Right: 4},
				{Feature: -1, Value: -1},
				{Feature: 2, Threshold: 0.9, Left: 5, Right: 6},
				{Feature: -1, Value: 3},
				{Feature: -1, Value: 0},
			}},
		},
	}
}

func newAdapter(t *testing.T, p model.Predictor, names ...string) *model.Adapter {
	t.Helper()
	a, err := model.NewAdapter(p, dataset.NewNumericSchema(names...))
	require.NoError(t, err)
	return a
}

// bruteForceShapley enumerates every coalition of the path-dependent value
// function: features in the coalition follow x, the rest are averaged by coverage.
func bruteForceShapley(tree model.Tree, splits []split, x []float64) []float64 {
	p := len(x)
	var value func(node int, in []bool) float64
	value = func(node int, in []bool) float64 {
		n := tree.Nodes[node]
		if n.IsLeaf() {
			return n.Value
		}
		if in[n.Feature] {
			if n.GoesLeft(x) {
				return value(n.Left, in)
			}
			return value(n.Right, in)
		}
		return splits[node].left*value(n.Left, in) + splits[node].right*value(n.Right, in)
	}

	fact := func(n int) float64 {
		f := 1.0
		for i := 2; i <= n; i++ {
			f *= float64(i)
		}
		return f
	}

	phi := make([]float64, p)
	for i := 0; i < p; i++ {
		for mask := 0; mask < 1<<p; mask++ {
			if mask&(1<<i) != 0 {
				continue
			}
			in := make([]bool, p)
			size := 0
			for j := 0; j < p; j++ {
				if mask&(1<<j) != 0 {
					in[j] = true
					size++
				}
			}
			without := value(0, in)
			in[i] = true
			with := value(0, in)
			w := fact(size) * fact(p-size-1) / fact(p)
			phi[i] += w * (with - without)
		}
	}
	return phi
}

// randomForest is a logit mean ensemble of depth-2 trees with random splits and
// leaf values in [-1, 1].
func randomForest(seed uint64, trees, p int) *model.TreeEnsemble {
	rng := rand.New(rand.NewPCG(seed, 7))
	inner := func(left, right int) model.Node {
		return model.Node{Feature: rng.IntN(p), Threshold: rng.Float64(), Left: left, Right: right}
	}
	leaf := func() model.Node {
		return model.Node{Feature: -1, Value: 2*rng.Float64() - 1}
	}

	e := &model.TreeEnsemble{Aggregation: model.AggregateMean, Link: model.LinkLogit}
	for range trees {
		e.Trees = append(e.Trees, model.Tree{Nodes: []model.Node{
			inner(1, 2), inner(3, 4), inner(5, 6), leaf(), leaf(), leaf(), leaf(),
		}})
	}
	return e
}
