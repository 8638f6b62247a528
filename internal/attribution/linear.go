package attribution

import (
	"context"
	"fmt"
	"math"

	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"gonum.org/v1/gonum/stat"
)

// LinearExplainer gives exact attributions for linear models:
// φ_j = w_j · (x_j − E[x_j]) with baseline b + w·E[x] over the background.
type LinearExplainer struct {
	adapter  *model.Adapter
	linear   *model.LinearModel
	means    []float64
	expected float64
}

// NewLinearExplainer computes background feature means.
func NewLinearExplainer(adapter *model.Adapter, background *dataset.Dataset) (*LinearExplainer, error) {
	linear, ok := adapter.Predictor().(*model.LinearModel)
	if !ok {
		return nil, fmt.Errorf("linear explainer needs a linear model, got %T", adapter.Predictor())
	}
	if adapter.OutputSpace() != model.SpaceMargin {
		return nil, fmt.Errorf("linear explainer explains margins, adapter outputs %s", adapter.OutputSpace())
	}
	if err := checkBackground(adapter, background); err != nil {
		return nil, err
	}

	means := make([]float64, adapter.Schema().Len())
	expected := linear.Intercept
	for j := range means {
		means[j] = stat.Mean(missingAsZero(background.Column(j)), nil)
		expected += linear.Weights[j] * means[j]
	}

	return &LinearExplainer{adapter: adapter, linear: linear, means: means, expected: expected}, nil
}

// Method implements Explainer.
func (e *LinearExplainer) Method() string {
	return MethodLinear
}

// Means returns the background feature means.
func (e *LinearExplainer) Means() []float64 {
	out := make([]float64, len(e.means))
	copy(out, e.means)
	return out
}

// Attribute implements Explainer.
func (e *LinearExplainer) Attribute(ctx context.Context, in dataset.Instance) (Attribution, error) {
	if err := ctx.Err(); err != nil {
		return Attribution{}, err
	}
	pred, err := prediction(e.adapter, in)
	if err != nil {
		return Attribution{}, err
	}

	phi := make([]float64, len(e.means))
	for j, v := range in.Values {
		if math.IsNaN(v) {
			v = 0
		}
		phi[j] = e.linear.Weights[j] * (v - e.means[j])
	}

	return Attribution{
		Features:    e.adapter.Schema().Names(),
		Values:      phi,
		Baseline:    e.expected,
		Prediction:  pred,
		Method:      MethodLinear,
		OutputSpace: model.SpaceMargin,
	}, nil
}

// missingAsZero mirrors LinearModel.Margin, where missing values contribute nothing.
func missingAsZero(col []float64) []float64 {
	for i, v := range col {
		if math.IsNaN(v) {
			col[i] = 0
		}
	}
	return col
}
