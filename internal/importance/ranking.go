// Package importance turns per-instance attributions and model scores into global
// feature rankings.
package importance

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"model-explain/internal/attribution"
	"model-explain/internal/model"
)

var (
	// ErrNoAttributions is returned when aggregating an empty sequence.
	ErrNoAttributions = errors.New("no attributions to aggregate")
	// ErrNoIntrinsic is returned for models without built-in importances.
	ErrNoIntrinsic = errors.New("model has no intrinsic feature importance")
)

// Entry is one feature and its score.
type Entry struct {
	Feature string  `json:"feature"`
	Score   float64 `json:"score"`
}

// Ranking is sorted by descending |Score|; equal magnitudes keep schema order.
type Ranking []Entry

// Top returns the names of the first n features.
func (r Ranking) Top(n int) []string {
	if n > len(r) || n < 0 {
		n = len(r)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = r[i].Feature
	}
	return out
}

// Score returns the score of the named feature.
func (r Ranking) Score(feature string) (float64, bool) {
	for _, e := range r {
		if e.Feature == feature {
			return e.Score, true
		}
	}
	return 0, false
}

// Aggregate returns the mean absolute attribution of every feature. All
// attributions must cover the same features in the same order. Values are summed
// in sorted order so the result does not depend on the order of attrs.
func Aggregate(attrs []attribution.Attribution) (Ranking, error) {
	if len(attrs) == 0 {
		return nil, ErrNoAttributions
	}

	features := attrs[0].Features
	columns := make([][]float64, len(features))
	for i, a := range attrs {
		if err := sameFeatures(features, a); err != nil {
			return nil, fmt.Errorf("attribution %d: %w", i, err)
		}
		for j, v := range a.Values {
			columns[j] = append(columns[j], math.Abs(v))
		}
	}

	scores := make([]float64, len(features))
	for j, col := range columns {
		sort.Float64s(col)
		sum := 0.0
		for _, v := range col {
			sum += v
		}
		scores[j] = sum / float64(len(attrs))
	}

	return FromScores(features, scores)
}

func sameFeatures(want []string, a attribution.Attribution) error {
	if len(a.Features) != len(want) || len(a.Values) != len(want) {
		return fmt.Errorf("expected %d features, got %d names and %d values", len(want), len(a.Features), len(a.Values))
	}
	for j, f := range a.Features {
		if f != want[j] {
			return fmt.Errorf("feature %d is %q, expected %q", j, f, want[j])
		}
	}
	return nil
}

// FromScores ranks scores aligned with features.
func FromScores(features []string, scores []float64) (Ranking, error) {
	if len(features) != len(scores) {
		return nil, fmt.Errorf("%d features but %d scores", len(features), len(scores))
	}
	r := make(Ranking, len(features))
	for i, f := range features {
		r[i] = Entry{Feature: f, Score: scores[i]}
	}
	sort.SliceStable(r, func(a, b int) bool {
		return math.Abs(r[a].Score) > math.Abs(r[b].Score)
	})
	return r, nil
}

// Intrinsic ranks features by the model's own importance measure: coefficients
// for linear models, normalised split gain for tree ensembles.
func Intrinsic(adapter *model.Adapter) (Ranking, error) {
	names := adapter.Schema().Names()
	switch m := adapter.Predictor().(type) {
	case *model.LinearModel:
		return FromScores(names, m.Coefficients())
	case *model.TreeEnsemble:
		return FromScores(names, m.FeatureImportances(len(names)))
	default:
		return nil, ErrNoIntrinsic
	}
}
