package attribution

import (
	"context"
	"fmt"

	"model-explain/internal/dataset"
	"model-explain/internal/model"
)

// split holds the share of background instances going to each child of a node.
type split struct {
	left, right float64
}

// TreeExplainer computes exact path-dependent Shapley values for tree ensembles.
// Node coverage comes from routing the background dataset through each tree; the
// expected value of a subtree weights its children by those coverage fractions.
type TreeExplainer struct {
	adapter  *model.Adapter
	ensemble *model.TreeEnsemble
	splits   [][]split
	expected float64
}

// NewTreeExplainer precomputes node coverage of background for every tree.
func NewTreeExplainer(adapter *model.Adapter, background *dataset.Dataset) (*TreeExplainer, error) {
	ensemble, ok := adapter.Predictor().(*model.TreeEnsemble)
	if !ok {
		return nil, fmt.Errorf("tree explainer needs a tree ensemble, got %T", adapter.Predictor())
	}
	if adapter.OutputSpace() != model.SpaceMargin {
		return nil, fmt.Errorf("tree explainer explains margins, adapter outputs %s", adapter.OutputSpace())
	}
	if err := checkBackground(adapter, background); err != nil {
		return nil, err
	}

	rows := background.Rows()
	e := &TreeExplainer{
		adapter:  adapter,
		ensemble: ensemble,
		splits:   make([][]split, len(ensemble.Trees)),
	}

	sum := 0.0
	for t, tree := range ensemble.Trees {
		e.splits[t] = coverage(tree, rows)
		sum += expectedValue(tree, e.splits[t], 0)
	}
	e.expected = ensemble.BaseScore + ensemble.Scale()*sum

	return e, nil
}

// Method implements Explainer.
func (e *TreeExplainer) Method() string {
	return MethodTree
}

// ExpectedValue returns the background-weighted expected margin.
func (e *TreeExplainer) ExpectedValue() float64 {
	return e.expected
}

// Attribute implements Explainer.
func (e *TreeExplainer) Attribute(ctx context.Context, in dataset.Instance) (Attribution, error) {
	if err := ctx.Err(); err != nil {
		return Attribution{}, err
	}
	pred, err := prediction(e.adapter, in)
	if err != nil {
		return Attribution{}, err
	}

	schema := e.adapter.Schema()
	phi := make([]float64, schema.Len())
	for t, tree := range e.ensemble.Trees {
		treeShap(tree, e.splits[t], in.Values, phi)
	}
	scale := e.ensemble.Scale()
	for i := range phi {
		phi[i] *= scale
	}

	return Attribution{
		Features:    schema.Names(),
		Values:      phi,
		Baseline:    e.expected,
		Prediction:  pred,
		Method:      MethodTree,
		OutputSpace: model.SpaceMargin,
	}, nil
}

// coverage counts background rows reaching each node and turns the counts into
// child fractions. Nodes no background row reaches split evenly.
func coverage(tree model.Tree, rows [][]float64) []split {
	counts := make([]float64, len(tree.Nodes))
	for _, x := range rows {
		i := 0
		counts[i]++
		for !tree.Nodes[i].IsLeaf() {
			n := tree.Nodes[i]
			if n.GoesLeft(x) {
				i = n.Left
			} else {
				i = n.Right
			}
			counts[i]++
		}
	}

	splits := make([]split, len(tree.Nodes))
	for i, n := range tree.Nodes {
		if n.IsLeaf() {
			continue
		}
		if counts[i] == 0 {
			splits[i] = split{left: 0.5, right: 0.5}
			continue
		}
		splits[i] = split{left: counts[n.Left] / counts[i], right: counts[n.Right] / counts[i]}
	}
	return splits
}

func expectedValue(tree model.Tree, splits []split, i int) float64 {
	n := tree.Nodes[i]
	if n.IsLeaf() {
		return n.Value
	}
	return splits[i].left*expectedValue(tree, splits, n.Left) + splits[i].right*expectedValue(tree, splits, n.Right)
}

// pathElement tracks one feature on the current root-to-node path.
// zero is the fraction of paths flowing through when the feature is absent from a
// coalition, one when present; weight is the permutation weight of subsets of
// that size.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// treeShap adds the Shapley values of x for one tree into phi in time
// O(leaves · depth²).
func treeShap(tree model.Tree, splits []split, x []float64, phi []float64) {
	var recurse func(node int, parent []pathElement, zero, one float64, feature int)
	recurse = func(node int, parent []pathElement, zero, one float64, feature int) {
		path := make([]pathElement, len(parent)+1, len(parent)+2)
		copy(path, parent)
		extendPath(path, zero, one, feature)

		n := tree.Nodes[node]
		if n.IsLeaf() {
			for i := 1; i < len(path); i++ {
				w := unwoundPathSum(path, i)
				el := path[i]
				phi[el.feature] += w * (el.one - el.zero) * n.Value
			}
			return
		}

		hot, cold := n.Right, n.Left
		hotZero, coldZero := splits[node].right, splits[node].left
		if n.GoesLeft(x) {
			hot, cold = cold, hot
			hotZero, coldZero = coldZero, hotZero
		}

		// A feature already split on higher up is removed and re-added with the
		// combined fractions.
		inZero, inOne := 1.0, 1.0
		for k := 1; k < len(path); k++ {
			if path[k].feature == n.Feature {
				inZero, inOne = path[k].zero, path[k].one
				path = unwindPath(path, k)
				break
			}
		}

		// Branches no path can flow through contribute nothing.
		if z := hotZero * inZero; z > 0 || inOne > 0 {
			recurse(hot, path, z, inOne, n.Feature)
		}
		if z := coldZero * inZero; z > 0 {
			recurse(cold, path, z, 0, n.Feature)
		}
	}
	recurse(0, nil, 1, 1, -1)
}

// extendPath fills the last element of path and updates subset weights.
func extendPath(path []pathElement, zero, one float64, feature int) {
	d := len(path) - 1
	path[d] = pathElement{feature: feature, zero: zero, one: one}
	if d == 0 {
		path[d].weight = 1
	}
	for i := d - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(d+1)
		path[i].weight = zero * path[i].weight * float64(d-i) / float64(d+1)
	}
}

// unwindPath removes element k from path, undoing its extendPath.
func unwindPath(path []pathElement, k int) []pathElement {
	d := len(path) - 1
	one, zero := path[k].one, path[k].zero
	next := path[d].weight
	for i := d - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * float64(d+1) / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(d-i)/float64(d+1)
		} else {
			path[i].weight = path[i].weight * float64(d+1) / (zero * float64(d-i))
		}
	}
	for i := k; i < d; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
	return path[:d]
}

// unwoundPathSum is the total weight of path with element k removed, without
// modifying path.
func unwoundPathSum(path []pathElement, k int) float64 {
	d := len(path) - 1
	one, zero := path[k].one, path[k].zero
	next := path[d].weight
	total := 0.0
	if one != 0 {
		for i := d - 1; i >= 0; i-- {
			tmp := next / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(d-i)
		}
	} else {
		for i := d - 1; i >= 0; i-- {
			total += path[i].weight / (zero * float64(d-i))
		}
	}
	return total * float64(d+1)
}
