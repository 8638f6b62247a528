package model

import (
	"fmt"
	"math"
)

// LinearModel is a fitted linear or logistic regression.
type LinearModel struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Link      string    `json:"link"` // identity or logit
}

// Validate checks the model parameters.
func (m *LinearModel) Validate(nFeatures int) error {
	if len(m.Weights) != nFeatures {
		return fmt.Errorf("linear model has %d weights for %d features", len(m.Weights), nFeatures)
	}
	switch m.Link {
	case "", LinkIdentity, LinkLogit:
	default:
		return fmt.Errorf("unknown link %q", m.Link)
	}
	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %d is not finite", i)
		}
	}
	return nil
}

// Coefficients returns a copy of the fitted weights.
func (m *LinearModel) Coefficients() []float64 {
	out := make([]float64, len(m.Weights))
	copy(out, m.Weights)
	return out
}

// Margin returns intercept + w·x for each row. Missing values contribute nothing.
func (m *LinearModel) Margin(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.Weights) {
			return nil, fmt.Errorf("expected %d features, got %d", len(m.Weights), len(row))
		}
		sum := m.Intercept
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			sum += m.Weights[j] * v
		}
		out[i] = sum
	}
	return out, nil
}

// PredictProba returns [p(0), p(1)] for each row.
func (m *LinearModel) PredictProba(rows [][]float64) ([][]float64, error) {
	margins, err := m.Margin(rows)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(margins))
	for i, z := range margins {
		p := applyLink(m.Link, z)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// Predict returns 1 when p(1) > 0.5, else 0.
func (m *LinearModel) Predict(rows [][]float64) ([]float64, error) {
	probs, err := m.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	return argmax(probs), nil
}

func applyLink(link string, z float64) float64 {
	if link == LinkLogit {
		return sigmoid(z)
	}
	return math.Min(1, math.Max(0, z))
}

// sigmoid converts a score to a probability
func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func argmax(probs [][]float64) []float64 {
	out := make([]float64, len(probs))
	for i, p := range probs {
		best := 0
		for j := 1; j < len(p); j++ {
			if p[j] > p[best] {
				best = j
			}
		}
		out[i] = float64(best)
	}
	return out
}
