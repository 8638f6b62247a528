package explain

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"model-explain/internal/attribution"
	"model-explain/internal/dataset"
	"model-explain/internal/metrics"
	"model-explain/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockGauge struct {
	mu sync.Mutex
	v  float64
}

func (g *mockGauge) Set(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v = v
}

func (g *mockGauge) Add(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.v += v
}

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu           sync.Mutex
	runs         map[string]int
	attributions int
	failures     int
	convergence  int
	lowConf      int
	samples      int
	workers      mockGauge
}

func (m *MockMetrics) RunInc(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs == nil {
		m.runs = make(map[string]int)
	}
	m.runs[method]++
}

func (m *MockMetrics) AttributionObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attributions++
}

func (m *MockMetrics) AttributionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) ConvergenceFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convergence++
}

func (m *MockMetrics) LowConfidenceInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lowConf++
}

func (m *MockMetrics) SurrogateSamplesObserve(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples += n
}

func (m *MockMetrics) ActiveWorkers() metrics.MetricsGauge {
	return &m.workers
}

// interaction is a black-box model: p = sigmoid(3·a·b − c).
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

func forest() *model.TreeEnsemble {
	return &model.TreeEnsemble{
		Aggregation: model.AggregateMean,
		Link:        model.LinkLogit,
		Trees: []model.Tree{
			{Nodes: []model.Node{
				{Feature: 0, Threshold: 0.5, Left: 1, Right: 2},
				{Feature: 2, Threshold: 0.3, Left: 3, Right: 4},
				{Feature: -1, Value: 2},
				{Feature: -1, Value: -1},
				{Feature: -1, Value: 0.5},
			}},
			{Nodes: []model.Node{
				{Feature: 1, Threshold: 0.6, Left: 1, Right: 2},
				{Feature: -1, Value: -0.5},
				{Feature: 0, Threshold: 0.2, Left: 3, Right: 4},
				{Feature: -1, Value: 0},
				{Feature: -1, Value: 1.5},
			}},
		},
	}
}

func randomDataset(schema dataset.Schema, seed uint64, n int) *dataset.Dataset {
	rng := rand.New(rand.NewPCG(seed, 1))
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
	}
	return dataset.New(schema, rows)
}

func newPipeline(t *testing.T, p model.Predictor, opts attribution.Options, workers int, m MetricsInterface) (*Pipeline, dataset.Schema) {
	t.Helper()
	schema := dataset.NewNumericSchema("a", "b", "c")
	adapter, err := model.NewAdapter(p, schema)
	require.NoError(t, err)
	pipe, err := New(adapter, randomDataset(schema, 1, 30), opts, Config{Model: "test", Workers: workers}, m)
	require.NoError(t, err)
	return pipe, schema
}

func TestPipeline_TreeRun(t *testing.T) {
	m := &MockMetrics{}
	pipe, schema := newPipeline(t, forest(), attribution.Options{}, 4, m)
	ds := randomDataset(schema, 2, 25)

	report, err := pipe.Run(context.Background(), ds)
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "test", report.Model)
	assert.Equal(t, attribution.MethodTree, report.Method)
	assert.Equal(t, model.SpaceMargin, report.OutputSpace)
	assert.Len(t, report.Attributions, 25)
	assert.Len(t, report.Ranking, 3)
	assert.Zero(t, report.LowConfidence)
	assert.Empty(t, report.Errors)

	for i, a := range report.Attributions {
		assert.NoError(t, attribution.CheckAdditivity(a, attribution.DefaultTolerance), "instance %d", i)
	}

	assert.Equal(t, 25, m.attributions)
	assert.Equal(t, 1, m.runs[attribution.MethodTree])
	assert.Equal(t, 0.0, m.workers.v)
}

func TestPipeline_ResultsIndependentOfWorkers(t *testing.T) {
	for _, method := range []string{attribution.MethodTree, attribution.MethodKernel} {
		t.Run(method, func(t *testing.T) {
			var p model.Predictor = forest()
			if method == attribution.MethodKernel {
				p = interaction{}
			}
			opts := attribution.Options{
				Method:    method,
				Surrogate: attribution.SurrogateOptions{Seed: 9, SampleBudget: 400, BatchSize: 200},
			}

			serial, schema := newPipeline(t, p, opts, 1, nil)
			parallel, _ := newPipeline(t, p, opts, 8, nil)
			ds := randomDataset(schema, 3, 12)

			r1, err := serial.Run(context.Background(), ds)
			require.NoError(t, err)
			r2, err := parallel.Run(context.Background(), ds)
			require.NoError(t, err)

			assert.Equal(t, r1.Attributions, r2.Attributions)
			assert.Equal(t, r1.Ranking, r2.Ranking)
			assert.NotEqual(t, r1.ID, r2.ID)
		})
	}
}

func TestPipeline_ConvergenceErrorsAreRecorded(t *testing.T) {
	m := &MockMetrics{}
	opts := attribution.Options{
		Method:    attribution.MethodLIME,
		Surrogate: attribution.SurrogateOptions{SampleBudget: 60, BatchSize: 30, Tolerance: 1e-15},
	}
	pipe, schema := newPipeline(t, interaction{}, opts, 3, m)
	ds := randomDataset(schema, 4, 5)

	report, err := pipe.Run(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 5, report.LowConfidence)
	require.Len(t, report.Errors, 5)
	assert.Contains(t, report.Errors[0].Message, "did not converge")
	assert.Len(t, report.Ranking, 3)
	assert.Equal(t, 5, m.convergence)
	assert.Equal(t, 5, m.lowConf)
	assert.Equal(t, 300, m.samples)

	s := report.Summarize(2)
	assert.Len(t, s.Top, 2)
	assert.Equal(t, 5, s.Instances)
	assert.Equal(t, 5, s.LowConfidence)
}

func TestPipeline_Errors(t *testing.T) {
	pipe, schema := newPipeline(t, forest(), attribution.Options{}, 2, nil)

	_, err := pipe.Run(context.Background(), dataset.New(schema, nil))
	assert.ErrorIs(t, err, dataset.ErrEmptyDataset)

	wrong := dataset.New(dataset.NewNumericSchema("a", "c", "b"), [][]float64{{0, 0, 0}})
	_, err = pipe.Run(context.Background(), wrong)
	var schemaErr *model.InvalidSchemaError
	assert.True(t, errors.As(err, &schemaErr), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pipe.Run(ctx, randomDataset(schema, 5, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenExplainer returns attributions that do not add up.
type brokenExplainer struct{}

func (brokenExplainer) Method() string { return "broken" }

func (brokenExplainer) Attribute(_ context.Context, in dataset.Instance) (attribution.Attribution, error) {
	return attribution.Attribution{
		Features:   []string{"a", "b", "c"},
		Values:     []float64{1, 1, 1},
		Baseline:   0,
		Prediction: 10,
	}, nil
}

func TestPipeline_AdditivityViolationAborts(t *testing.T) {
	schema := dataset.NewNumericSchema("a", "b", "c")
	adapter, err := model.NewAdapter(forest(), schema)
	require.NoError(t, err)

	pipe := NewWithExplainer(adapter, brokenExplainer{}, Config{Workers: 2}, nil)
	_, err = pipe.Run(context.Background(), randomDataset(schema, 6, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "additivity")
}
