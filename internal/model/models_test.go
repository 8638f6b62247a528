package model

import (
	"math"
	"path/filepath"
	"testing"

	"model-explain/internal/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearModel(t *testing.T) {
	lm := &LinearModel{Weights: []float64{0.3, -0.1}, Intercept: 0.5, Link: LinkIdentity}
	require.NoError(t, lm.Validate(2))

	margins, err := lm.Margin([][]float64{{1, 1}, {math.NaN(), 1}})
	require.NoError(t, err)
	assert.InDelta(t, 0.7, margins[0], 1e-12)
	assert.InDelta(t, 0.4, margins[1], 1e-12)

	probs, err := lm.PredictProba([][]float64{{1, 1}, {10, 0}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.3, 0.7}, probs[0], 1e-12)
	assert.Equal(t, []float64{0, 1}, probs[1], "identity link clips to [0,1]")

	labels, err := lm.Predict([][]float64{{1, 1}, {-5, 0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, labels)

	coef := lm.Coefficients()
	coef[0] = 9
	assert.Equal(t, 0.3, lm.Weights[0])

	_, err = lm.Margin([][]float64{{1}})
	assert.Error(t, err)
}

func TestLinearModel_Validate(t *testing.T) {
	assert.Error(t, (&LinearModel{Weights: []float64{1}}).Validate(2))
	assert.Error(t, (&LinearModel{Weights: []float64{1}, Link: "probit"}).Validate(1))
	assert.Error(t, (&LinearModel{Weights: []float64{math.Inf(1)}}).Validate(1))
	assert.NoError(t, (&LinearModel{Weights: []float64{1}}).Validate(1))
}

func TestTree_Leaf(t *testing.T) {
	tree := stump()
	require.NoError(t, tree.Validate(2))

	assert.Equal(t, 1, tree.Leaf([]float64{0.5, 0}))
	assert.Equal(t, 2, tree.Leaf([]float64{0.6, 0}))
	assert.Equal(t, 2, tree.Leaf([]float64{math.NaN(), 0}), "missing goes right by default")

	tree.Nodes[0].MissingLeft = true
	assert.Equal(t, float64(1), tree.Eval([]float64{math.NaN(), 0}))
}

func TestTree_Validate(t *testing.T) {
	tests := []struct {
		name string
		tree Tree
	}{
		{"empty", Tree{}},
		{"feature out of range", Tree{Nodes: []Node{{Feature: 4, Left: 1, Right: 2}, {Feature: -1}, {Feature: -1}}}},
		{"backward child", Tree{Nodes: []Node{{Feature: 0, Left: 0, Right: 1}, {Feature: -1}}}},
		{"child out of range", Tree{Nodes: []Node{{Feature: 0, Left: 1, Right: 5}, {Feature: -1}}}},
		{"same children", Tree{Nodes: []Node{{Feature: 0, Left: 1, Right: 1}, {Feature: -1}}}},
		{"nan leaf", Tree{Nodes: []Node{{Feature: -1, Value: math.NaN()}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.tree.Validate(2))
		})
	}
}

func TestTreeEnsemble(t *testing.T) {
	other := Tree{Nodes: []Node{
		{Feature: 1, Threshold: 0, Left: 1, Right: 2, Gain: 6},
		{Feature: -1, Value: -1},
		{Feature: -1, Value: 1},
	}}

	forest := &TreeEnsemble{Trees: []Tree{stump(), other}, Aggregation: AggregateMean, NumFeatures: 2}
	require.NoError(t, forest.Validate(2))
	margins, err := forest.Margin([][]float64{{1, 1}, {0, -1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 0}, margins, 1e-12)

	boosted := &TreeEnsemble{Trees: []Tree{stump(), other}, Aggregation: AggregateSum, BaseScore: -2, Link: LinkLogit}
	require.NoError(t, boosted.Validate(2))
	margins, err = boosted.Margin([][]float64{{1, 1}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, margins[0], 1e-12)

	probs, err := boosted.PredictProba([][]float64{{1, 1}})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(2), probs[0][1], 1e-12)

	labels, err := boosted.Predict([][]float64{{0, -1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, labels)

	assert.InDeltaSlice(t, []float64{0.25, 0.75}, boosted.FeatureImportances(2), 1e-12)
	assert.Equal(t, []float64{0, 0}, (&TreeEnsemble{Trees: []Tree{{Nodes: []Node{{Feature: -1}}}}}).FeatureImportances(2))

	_, err = forest.Margin([][]float64{{1}})
	assert.Error(t, err)
}

func TestTreeEnsemble_Validate(t *testing.T) {
	assert.Error(t, (&TreeEnsemble{Aggregation: AggregateSum}).Validate(2))
	assert.Error(t, (&TreeEnsemble{Trees: []Tree{stump()}, Aggregation: "max"}).Validate(2))
	assert.Error(t, (&TreeEnsemble{Trees: []Tree{stump()}, Aggregation: AggregateSum, Link: "log"}).Validate(2))
	assert.Error(t, (&TreeEnsemble{Trees: []Tree{stump()}, Aggregation: AggregateSum, NumFeatures: 3}).Validate(2))
}

func TestModelFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	linearPath := filepath.Join(dir, "models", "linear.json")
	require.NoError(t, WriteFile(linearPath, &File{
		Type:   TypeLinear,
		Name:   "logreg",
		Schema: twoFeatureSchema(),
		Linear: &LinearModel{Weights: []float64{1, 2}, Link: LinkLogit},
	}))

	f, err := LoadFile(linearPath)
	require.NoError(t, err)
	p, err := f.Predictor()
	require.NoError(t, err)
	assert.IsType(t, &LinearModel{}, p)
	assert.Equal(t, "logreg", f.Name)

	treePath := filepath.Join(dir, "forest.json")
	require.NoError(t, WriteFile(treePath, &File{
		Type:     TypeTreeEnsemble,
		Schema:   twoFeatureSchema(),
		Ensemble: &TreeEnsemble{Trees: []Tree{stump()}, Aggregation: AggregateMean},
	}))

	f, err = LoadFile(treePath)
	require.NoError(t, err)
	p, err = f.Predictor()
	require.NoError(t, err)
	ens, ok := p.(*TreeEnsemble)
	require.True(t, ok)
	assert.Equal(t, 2, ens.NumFeatures)
}

func TestModelFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	cases := map[string]*File{
		"unknown type":  {Type: "svm", Schema: twoFeatureSchema()},
		"no linear":     {Type: TypeLinear, Schema: twoFeatureSchema()},
		"no ensemble":   {Type: TypeTreeEnsemble, Schema: twoFeatureSchema()},
		"bad schema":    {Type: TypeLinear, Schema: dataset.Schema{}, Linear: &LinearModel{}},
		"weight count":  {Type: TypeLinear, Schema: twoFeatureSchema(), Linear: &LinearModel{Weights: []float64{1}}},
		"invalid trees": {Type: TypeTreeEnsemble, Schema: twoFeatureSchema(), Ensemble: &TreeEnsemble{Aggregation: AggregateSum}},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			require.NoError(t, WriteFile(path, f))
			_, err := LoadFile(path)
			assert.Error(t, err)
		})
	}
}
