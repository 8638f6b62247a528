package model

import (
	"fmt"
	"math"
)

// Ensemble aggregation modes.
const (
	AggregateMean = "mean" // random forest: average of tree outputs
	AggregateSum  = "sum"  // gradient boosting: base score plus sum of tree outputs
)

// Node is one node of a binary decision tree stored as a flat array.
// Internal nodes send x[Feature] <= Threshold to Left, everything else to Right.
// Missing values follow MissingLeft.
type Node struct {
	Feature     int     `json:"feature"` // -1 for leaves
	Threshold   float64 `json:"threshold,omitempty"`
	Left        int     `json:"left,omitempty"`
	Right       int     `json:"right,omitempty"`
	MissingLeft bool    `json:"missing_left,omitempty"`
	Value       float64 `json:"value,omitempty"` // leaf output
	Gain        float64 `json:"gain,omitempty"`  // impurity decrease of the split
}

// IsLeaf reports whether n is a leaf.
func (n Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a binary decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Validate checks node references. Children must come after their parent, which
// rules out cycles.
func (t Tree) Validate(nFeatures int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if n.IsLeaf() {
			if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
				return fmt.Errorf("node %d: leaf value is not finite", i)
			}
			continue
		}
		if n.Feature >= nFeatures {
			return fmt.Errorf("node %d: feature %d outside %d features", i, n.Feature, nFeatures)
		}
		if n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
		if n.Left == n.Right {
			return fmt.Errorf("node %d: both children are node %d", i, n.Left)
		}
	}
	return nil
}

// GoesLeft reports which child x follows at internal node n.
func (n Node) GoesLeft(x []float64) bool {
	v := x[n.Feature]
	if math.IsNaN(v) {
		return n.MissingLeft
	}
	return v <= n.Threshold
}

// Leaf returns the index of the leaf reached by x.
func (t Tree) Leaf(x []float64) int {
	i := 0
	for !t.Nodes[i].IsLeaf() {
		n := t.Nodes[i]
		if n.GoesLeft(x) {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return i
}

// Eval returns the leaf value reached by x.
func (t Tree) Eval(x []float64) float64 {
	return t.Nodes[t.Leaf(x)].Value
}

// TreeEnsemble is a random forest or gradient boosted ensemble of regression trees
// explaining a binary outcome.
type TreeEnsemble struct {
	Trees       []Tree  `json:"trees"`
	Aggregation string  `json:"aggregation"` // mean or sum
	BaseScore   float64 `json:"base_score,omitempty"`
	Link        string  `json:"link"` // identity or logit
	NumFeatures int     `json:"num_features"`
}

// Validate checks the ensemble and every tree.
func (e *TreeEnsemble) Validate(nFeatures int) error {
	if len(e.Trees) == 0 {
		return fmt.Errorf("ensemble has no trees")
	}
	if e.NumFeatures != 0 && e.NumFeatures != nFeatures {
		return fmt.Errorf("ensemble built for %d features, schema has %d", e.NumFeatures, nFeatures)
	}
	switch e.Aggregation {
	case AggregateMean, AggregateSum:
	default:
		return fmt.Errorf("unknown aggregation %q", e.Aggregation)
	}
	switch e.Link {
	case "", LinkIdentity, LinkLogit:
	default:
		return fmt.Errorf("unknown link %q", e.Link)
	}
	for i, t := range e.Trees {
		if err := t.Validate(nFeatures); err != nil {
			return fmt.Errorf("tree %d: %w", i, err)
		}
	}
	return nil
}

// Scale is the factor applied to summed tree outputs.
func (e *TreeEnsemble) Scale() float64 {
	if e.Aggregation == AggregateMean {
		return 1 / float64(len(e.Trees))
	}
	return 1
}

// Margin returns the aggregated raw tree output for each row.
func (e *TreeEnsemble) Margin(rows [][]float64) ([]float64, error) {
	out := make([]float64, len(rows))
	scale := e.Scale()
	for i, row := range rows {
		if e.NumFeatures != 0 && len(row) != e.NumFeatures {
			return nil, fmt.Errorf("expected %d features, got %d", e.NumFeatures, len(row))
		}
		sum := 0.0
		for _, t := range e.Trees {
			sum += t.Eval(row)
		}
		out[i] = e.BaseScore + scale*sum
	}
	return out, nil
}

// PredictProba returns [p(0), p(1)] for each row.
func (e *TreeEnsemble) PredictProba(rows [][]float64) ([][]float64, error) {
	margins, err := e.Margin(rows)
	if err != nil {
		return nil, err
	}
	out := make([][]float64, len(margins))
	for i, z := range margins {
		p := applyLink(e.Link, z)
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

// Predict returns the most probable class for each row.
func (e *TreeEnsemble) Predict(rows [][]float64) ([]float64, error) {
	probs, err := e.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	return argmax(probs), nil
}

// FeatureImportances returns the total split gain per feature normalised to sum to
// one. All zeros when no split carries a gain.
func (e *TreeEnsemble) FeatureImportances(nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	total := 0.0
	for _, t := range e.Trees {
		for _, n := range t.Nodes {
			if n.IsLeaf() || n.Feature >= nFeatures || n.Gain <= 0 {
				continue
			}
			out[n.Feature] += n.Gain
			total += n.Gain
		}
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
