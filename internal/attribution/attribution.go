// Package attribution computes per-feature contributions to a single prediction.
//
// Exact explainers (TreeExplainer, LinearExplainer) work on a model's raw margin;
// the SurrogateExplainer treats the model as a black box and fits a weighted local
// linear model to perturbed predictions. Every Attribution satisfies
// Baseline + Σ Values == Prediction.
package attribution

import (
	"context"
	"errors"
	"fmt"
	"math"

	"model-explain/internal/dataset"
	"model-explain/internal/model"
)

// Method names.
const (
	MethodAuto   = "auto"
	MethodTree   = "tree"
	MethodLinear = "linear"
	MethodLIME   = "lime"
	MethodKernel = "kernel"
)

// DefaultTolerance is the relative tolerance used by CheckAdditivity.
const DefaultTolerance = 1e-9

// ErrNoBackground is returned when an explainer is built without background data.
var ErrNoBackground = errors.New("background dataset is empty")

// Attribution is the signed contribution of each feature to one prediction.
type Attribution struct {
	Features      []string  `json:"features"`
	Values        []float64 `json:"values"`
	Baseline      float64   `json:"baseline"`
	Prediction    float64   `json:"prediction"`
	Method        string    `json:"method"`
	OutputSpace   string    `json:"output_space"`
	LowConfidence bool      `json:"low_confidence,omitempty"`
	Samples       int       `json:"samples,omitempty"`   // surrogate samples drawn
	Fit           float64   `json:"fit_score,omitempty"` // weighted R² of the surrogate
}

// Sum returns the total of all contributions.
func (a Attribution) Sum() float64 {
	sum := 0.0
	for _, v := range a.Values {
		sum += v
	}
	return sum
}

// Get returns the contribution of the named feature.
func (a Attribution) Get(name string) (float64, bool) {
	for i, f := range a.Features {
		if f == name {
			return a.Values[i], true
		}
	}
	return 0, false
}

// Map returns the contributions keyed by feature name.
func (a Attribution) Map() map[string]float64 {
	m := make(map[string]float64, len(a.Features))
	for i, f := range a.Features {
		m[f] = a.Values[i]
	}
	return m
}

// CheckAdditivity verifies Baseline + Σ Values == Prediction within a relative
// tolerance.
func CheckAdditivity(a Attribution, tol float64) error {
	if len(a.Values) != len(a.Features) {
		return fmt.Errorf("attribution has %d values for %d features", len(a.Values), len(a.Features))
	}
	gap := math.Abs(a.Baseline + a.Sum() - a.Prediction)
	scale := math.Max(1, math.Abs(a.Prediction))
	if !(gap <= tol*scale) {
		return fmt.Errorf("additivity violated: baseline %.12g + sum %.12g != prediction %.12g", a.Baseline, a.Sum(), a.Prediction)
	}
	return nil
}

// ConvergenceError reports a local surrogate whose coefficients were not pinned
// down within the sample budget. The Attribution returned alongside it is flagged
// LowConfidence.
type ConvergenceError struct {
	Samples int
	Budget  int
	StdErr  float64 // largest coefficient standard error relative to output spread
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("surrogate did not converge after %d/%d samples (relative standard error %.3g)", e.Samples, e.Budget, e.StdErr)
}

// Explainer attributes predictions of one model against one background dataset.
type Explainer interface {
	Method() string
	Attribute(ctx context.Context, in dataset.Instance) (Attribution, error)
}

// Options selects and configures an explainer.
type Options struct {
	Method    string
	Surrogate SurrogateOptions
}

// New builds the explainer selected by opts.Method. MethodAuto picks the exact
// explainer when the model supports one and the LIME surrogate otherwise.
func New(adapter *model.Adapter, background *dataset.Dataset, opts Options) (Explainer, error) {
	method := opts.Method
	if method == "" || method == MethodAuto {
		method = autoMethod(adapter)
	}

	switch method {
	case MethodTree:
		return NewTreeExplainer(adapter, background)
	case MethodLinear:
		return NewLinearExplainer(adapter, background)
	case MethodLIME:
		s := opts.Surrogate
		s.Kernel = KernelExponential
		return NewSurrogateExplainer(adapter, background, s)
	case MethodKernel:
		s := opts.Surrogate
		s.Kernel = KernelShapley
		return NewSurrogateExplainer(adapter, background, s)
	default:
		return nil, fmt.Errorf("unknown attribution method %q", opts.Method)
	}
}

// Attribute explains a single instance in one call.
func Attribute(ctx context.Context, adapter *model.Adapter, in dataset.Instance, background *dataset.Dataset, opts Options) (Attribution, error) {
	e, err := New(adapter, background, opts)
	if err != nil {
		return Attribution{}, err
	}
	return e.Attribute(ctx, in)
}

func autoMethod(adapter *model.Adapter) string {
	if adapter.OutputSpace() != model.SpaceMargin {
		return MethodLIME
	}
	switch adapter.Predictor().(type) {
	case *model.TreeEnsemble:
		return MethodTree
	case *model.LinearModel:
		return MethodLinear
	default:
		return MethodLIME
	}
}

func checkBackground(adapter *model.Adapter, background *dataset.Dataset) error {
	if background.Len() == 0 {
		return ErrNoBackground
	}
	if err := adapter.ValidateDataset(background); err != nil {
		return fmt.Errorf("background: %w", err)
	}
	return nil
}

// prediction returns the adapter output for one validated instance.
func prediction(adapter *model.Adapter, in dataset.Instance) (float64, error) {
	if err := adapter.ValidateInstance(in); err != nil {
		return 0, err
	}
	out, err := adapter.Output([][]float64{in.Values})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}
