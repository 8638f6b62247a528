package model

import (
	"sync"

	"model-explain/internal/dataset"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	predictions int
	failures    int
	latencySum  float64
	calls       int
}

func (m *MockMetrics) ModelPredictionsInc(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions += n
}

func (m *MockMetrics) ModelFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) ModelLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
	m.calls++
}

// probaOnly hides the Marginer implementation of a model.
type probaOnly struct {
	Predictor
}

func twoFeatureSchema() dataset.Schema {
	return dataset.NewNumericSchema("a", "b")
}

// stump splits on feature 0 at 0.5: left leaf 1, right leaf 3.
func stump() Tree {
	return Tree{Nodes: []Node{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Gain: 2},
		{Feature: -1, Value: 1},
		{Feature: -1, Value: 3},
	}}
}
