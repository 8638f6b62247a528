package model

import (
	"fmt"
	"time"

	"model-explain/internal/dataset"

	"github.com/rs/zerolog/log"
)

// Output spaces reported by Adapter.OutputSpace.
const (
	SpaceMargin      = "margin"
	SpaceProbability = "probability"
)

// Adapter binds a Predictor to the schema it expects. Every call validates its input
// rows first and fails with *InvalidSchemaError on any mismatch. Adapters are safe
// for concurrent use when the wrapped Predictor is.
type Adapter struct {
	predictor   Predictor
	schema      dataset.Schema
	targetClass int
	useMargin   bool
	metrics     MetricsInterface
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithTargetClass selects which class probability Output explains.
func WithTargetClass(class int) AdapterOption {
	return func(a *Adapter) { a.targetClass = class }
}

// WithMetrics attaches prediction metrics.
func WithMetrics(m MetricsInterface) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

// WithProbabilityOutput forces Output to use class probabilities even when the
// model exposes a margin.
func WithProbabilityOutput() AdapterOption {
	return func(a *Adapter) { a.useMargin = false }
}

// NewAdapter creates an adapter for p with the given schema.
func NewAdapter(p Predictor, schema dataset.Schema, opts ...AdapterOption) (*Adapter, error) {
	if p == nil {
		return nil, fmt.Errorf("predictor is nil")
	}
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("model schema: %w", err)
	}

	_, hasMargin := p.(Marginer)
	a := &Adapter{
		predictor:   p,
		schema:      schema,
		targetClass: 1,
		useMargin:   hasMargin,
	}
	for _, o := range opts {
		o(a)
	}
	if a.targetClass < 0 {
		return nil, fmt.Errorf("target class must be non-negative, got %d", a.targetClass)
	}
	return a, nil
}

// Schema returns the schema the model expects.
func (a *Adapter) Schema() dataset.Schema {
	return a.schema
}

// Predictor returns the wrapped predictor.
func (a *Adapter) Predictor() Predictor {
	return a.predictor
}

// TargetClass returns the class whose probability Output explains.
func (a *Adapter) TargetClass() int {
	return a.targetClass
}

// OutputSpace reports whether Output returns margins or probabilities.
func (a *Adapter) OutputSpace() string {
	if a.useMargin {
		return SpaceMargin
	}
	return SpaceProbability
}

// CheckSchema verifies that s names the same features, in the same order and with
// the same kinds, as the model schema.
func (a *Adapter) CheckSchema(s dataset.Schema) error {
	if s.Len() != a.schema.Len() {
		return schemaErr(-1, "", "expected %d features, got %d", a.schema.Len(), s.Len())
	}
	for i, want := range a.schema.Features {
		got := s.Features[i]
		if got.Name != want.Name {
			return schemaErr(-1, want.Name, "position %d holds %q", i, got.Name)
		}
		if kindOf(got) != kindOf(want) {
			return schemaErr(-1, want.Name, "kind %s, model expects %s", kindOf(got), kindOf(want))
		}
	}
	return nil
}

// ValidateDataset checks the dataset schema and every instance.
func (a *Adapter) ValidateDataset(ds *dataset.Dataset) error {
	if ds == nil {
		return fmt.Errorf("dataset is nil")
	}
	if err := a.CheckSchema(ds.Schema); err != nil {
		return err
	}
	return a.ValidateRows(ds.Rows())
}

// ValidateInstance checks a single instance against the model schema.
func (a *Adapter) ValidateInstance(in dataset.Instance) error {
	return a.validateRow(-1, in.Values)
}

// ValidateRows checks raw rows against the model schema.
func (a *Adapter) ValidateRows(rows [][]float64) error {
	for i, row := range rows {
		if err := a.validateRow(i, row); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) validateRow(i int, row []float64) error {
	if len(row) != a.schema.Len() {
		return schemaErr(i, "", "expected %d values, got %d", a.schema.Len(), len(row))
	}
	for j, f := range a.schema.Features {
		if err := f.CheckValue(row[j]); err != nil {
			return schemaErr(i, f.Name, "%v", err)
		}
	}
	return nil
}

// Predict returns class labels for rows.
func (a *Adapter) Predict(rows [][]float64) ([]float64, error) {
	if err := a.ValidateRows(rows); err != nil {
		return nil, err
	}
	var labels []float64
	err := a.observe(len(rows), func() error {
		var err error
		labels, err = a.predictor.Predict(rows)
		return err
	})
	return labels, err
}

// PredictProba returns class probabilities for rows.
func (a *Adapter) PredictProba(rows [][]float64) ([][]float64, error) {
	if err := a.ValidateRows(rows); err != nil {
		return nil, err
	}
	var probs [][]float64
	err := a.observe(len(rows), func() error {
		var err error
		probs, err = a.predictor.PredictProba(rows)
		return err
	})
	return probs, err
}

// Output returns the scalar explained for each row: the raw margin for models that
// expose one, otherwise the probability of the target class.
func (a *Adapter) Output(rows [][]float64) ([]float64, error) {
	if err := a.ValidateRows(rows); err != nil {
		return nil, err
	}

	var out []float64
	err := a.observe(len(rows), func() error {
		if a.useMargin {
			m, ok := a.predictor.(Marginer)
			if !ok {
				return fmt.Errorf("predictor %T has no margin output", a.predictor)
			}
			var err error
			out, err = m.Margin(rows)
			return err
		}

		probs, err := a.predictor.PredictProba(rows)
		if err != nil {
			return err
		}
		out = make([]float64, len(probs))
		for i, p := range probs {
			if a.targetClass >= len(p) {
				return fmt.Errorf("target class %d outside %d probabilities", a.targetClass, len(p))
			}
			out[i] = p[a.targetClass]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) != len(rows) {
		return nil, fmt.Errorf("model returned %d outputs for %d rows", len(out), len(rows))
	}
	return out, nil
}

func (a *Adapter) observe(n int, call func() error) error {
	start := time.Now()
	err := call()
	if a.metrics != nil {
		a.metrics.ModelLatencyObserve(time.Since(start).Seconds())
		if err != nil {
			a.metrics.ModelFailuresInc()
		} else {
			a.metrics.ModelPredictionsInc(n)
		}
	}
	if err != nil {
		log.Error().Err(err).Int("rows", n).Str("predictor", fmt.Sprintf("%T", a.predictor)).Msg("Model call failed")
	}
	return err
}

func kindOf(f dataset.Feature) dataset.Kind {
	if f.Kind == "" {
		return dataset.Numeric
	}
	return f.Kind
}
