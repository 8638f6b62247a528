package attribution

import (
	"context"
	"errors"
	"testing"

	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurrogateExplainer_RecoversLinearModel(t *testing.T) {
	a := newAdapter(t, blackBox{smallLinear()}, "a", "b")
	require.Equal(t, model.SpaceProbability, a.OutputSpace())
	bg := dataset.New(a.Schema(), [][]float64{{0, 0}})
	x := dataset.Instance{Values: []float64{1, 1}}

	for _, kernel := range []string{KernelExponential, KernelShapley} {
		t.Run(kernel, func(t *testing.T) {
			e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{Kernel: kernel, Seed: 3})
			require.NoError(t, err)

			attr, err := e.Attribute(context.Background(), x)
			require.NoError(t, err)

			assert.InDeltaSlice(t, []float64{0.3, -0.1}, attr.Values, 1e-4)
			assert.InDelta(t, 0.5, attr.Baseline, 1e-4)
			assert.InDelta(t, 0.7, attr.Prediction, 1e-12)
			assert.False(t, attr.LowConfidence)
			assert.Equal(t, 1500, attr.Samples)
			assert.InDelta(t, 1.0, attr.Fit, 1e-6)
			assert.NoError(t, CheckAdditivity(attr, DefaultTolerance))
		})
	}
}

func TestSurrogateExplainer_Deterministic(t *testing.T) {
	a := newAdapter(t, interaction{}, "a", "b", "c")
	bg := dataset.New(a.Schema(), randomRows(5, 20, 3))
	xs := randomRows(6, 3, 3)
	opts := SurrogateOptions{Kernel: KernelShapley, Seed: 7, SampleBudget: 600, BatchSize: 200}

	run := func(order []int) map[int][]float64 {
		e, err := NewSurrogateExplainer(a, bg, opts)
		require.NoError(t, err)
		out := make(map[int][]float64)
		for _, i := range order {
			attr, err := e.Attribute(context.Background(), dataset.Instance{Values: xs[i]})
			var convErr *ConvergenceError
			if err != nil && !errors.As(err, &convErr) {
				require.NoError(t, err)
			}
			out[i] = attr.Values
		}
		return out
	}

	assert.Equal(t, run([]int{0, 1, 2}), run([]int{2, 0, 1}))
}

func TestSurrogateExplainer_ConvergenceError(t *testing.T) {
	a := newAdapter(t, interaction{}, "a", "b", "c")
	bg := dataset.New(a.Schema(), randomRows(5, 20, 3))
	x := dataset.Instance{Values: []float64{0.9, 0.8, 0.1}}

	for _, kernel := range []string{KernelExponential, KernelShapley} {
		t.Run(kernel, func(t *testing.T) {
			e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{
				Kernel:       kernel,
				SampleBudget: 100,
				BatchSize:    50,
				Tolerance:    1e-15,
			})
			require.NoError(t, err)

			attr, err := e.Attribute(context.Background(), x)
			var convErr *ConvergenceError
			require.True(t, errors.As(err, &convErr), "got %v", err)
			assert.Equal(t, 100, convErr.Samples)
			assert.Equal(t, 100, convErr.Budget)

			assert.True(t, attr.LowConfidence)
			assert.Len(t, attr.Values, 3)
			assert.NoError(t, CheckAdditivity(attr, DefaultTolerance))
		})
	}
}

func TestSurrogateExplainer_ConvergesOnTreeEnsemble(t *testing.T) {
	forest := randomForest(11, 20, 3)
	names := []string{"a", "b", "c"}
	bg := dataset.New(dataset.NewNumericSchema(names...), randomRows(12, 100, 3))
	xs := randomRows(13, 10, 3)

	tests := []struct {
		name   string
		kernel string
		opts   []model.AdapterOption
	}{
		{"lime margin", KernelExponential, nil},
		{"lime probability", KernelExponential, []model.AdapterOption{model.WithProbabilityOutput()}},
		{"kernel margin", KernelShapley, nil},
		{"kernel probability", KernelShapley, []model.AdapterOption{model.WithProbabilityOutput()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := model.NewAdapter(forest, bg.Schema, tt.opts...)
			require.NoError(t, err)
			e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{Kernel: tt.kernel, Seed: 5})
			require.NoError(t, err)

			for i, x := range xs {
				attr, err := e.Attribute(context.Background(), dataset.Instance{Values: x})
				require.NoError(t, err, "instance %d", i)
				assert.False(t, attr.LowConfidence, "instance %d", i)
				assert.LessOrEqual(t, attr.Samples, DefaultSurrogateOptions().SampleBudget)
				assert.NoError(t, CheckAdditivity(attr, DefaultTolerance))
			}
		})
	}
}

func TestSurrogateExplainer_TightToleranceIsLowConfidence(t *testing.T) {
	forest := randomForest(11, 20, 3)
	bg := dataset.New(dataset.NewNumericSchema("a", "b", "c"), randomRows(12, 100, 3))
	a, err := model.NewAdapter(forest, bg.Schema)
	require.NoError(t, err)

	e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{SampleBudget: 2000, Tolerance: 1e-6})
	require.NoError(t, err)

	attr, err := e.Attribute(context.Background(), dataset.Instance{Values: []float64{0.2, 0.7, 0.4}})
	var convErr *ConvergenceError
	require.True(t, errors.As(err, &convErr), "got %v", err)
	assert.Greater(t, convErr.StdErr, 1e-6)
	assert.Equal(t, 2000, attr.Samples)
	assert.True(t, attr.LowConfidence)
}

func TestSurrogateExplainer_MaxFeatures(t *testing.T) {
	lin := &model.LinearModel{Weights: []float64{0.5, 0.01, -0.3}, Intercept: 0.2, Link: model.LinkIdentity}
	a := newAdapter(t, blackBox{lin}, "a", "b", "c")
	bg := dataset.New(a.Schema(), [][]float64{{0, 0, 0}})

	e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{MaxFeatures: 2, Tolerance: 0.01})
	require.NoError(t, err)

	attr, err := e.Attribute(context.Background(), dataset.Instance{Values: []float64{1, 1, 1}})
	require.NoError(t, err)

	assert.Equal(t, 0.0, attr.Values[1])
	assert.InDelta(t, 0.5, attr.Values[0], 0.05)
	assert.InDelta(t, -0.3, attr.Values[2], 0.05)
	assert.NoError(t, CheckAdditivity(attr, DefaultTolerance))
}

func TestSurrogateExplainer_SingleFeatureShapley(t *testing.T) {
	lin := &model.LinearModel{Weights: []float64{0.4}, Intercept: 0.1, Link: model.LinkIdentity}
	a := newAdapter(t, blackBox{lin}, "a")
	bg := dataset.New(a.Schema(), [][]float64{{0}, {0.5}})

	e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{Kernel: KernelShapley})
	require.NoError(t, err)

	attr, err := e.Attribute(context.Background(), dataset.Instance{Values: []float64{1}})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, attr.Baseline, 1e-12)
	assert.InDelta(t, 0.3, attr.Values[0], 1e-12)
	assert.Equal(t, 0, attr.Samples)
}

func TestSurrogateOptions_Validate(t *testing.T) {
	a := newAdapter(t, blackBox{smallLinear()}, "a", "b")
	bg := dataset.New(a.Schema(), [][]float64{{0, 0}})

	bad := []SurrogateOptions{
		{Kernel: "gaussian"},
		{KernelWidth: -1},
		{SampleBudget: -5},
		{BatchSize: -1},
		{Tolerance: -0.1},
		{Ridge: -1},
		{MaxFeatures: -2},
	}
	for _, o := range bad {
		_, err := NewSurrogateExplainer(a, bg, o)
		assert.Error(t, err, "%+v", o)
	}

	e, err := NewSurrogateExplainer(a, bg, SurrogateOptions{})
	require.NoError(t, err)
	got := e.Options()
	assert.Equal(t, KernelExponential, got.Kernel)
	assert.InDelta(t, 0.75*1.4142135623730951, got.KernelWidth, 1e-12)
	assert.Equal(t, DefaultSurrogateOptions().SampleBudget, got.SampleBudget)
}
