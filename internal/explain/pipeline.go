// Package explain runs an attribution method over a whole dataset and aggregates
// the result into a Report.
package explain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"model-explain/internal/attribution"
	"model-explain/internal/dataset"
	"model-explain/internal/importance"
	"model-explain/internal/metrics"
	"model-explain/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// MetricsInterface is the subset of metrics the pipeline records.
type MetricsInterface interface {
	RunInc(method string)
	AttributionObserve(seconds float64)
	AttributionFailuresInc()
	ConvergenceFailuresInc()
	LowConfidenceInc()
	SurrogateSamplesObserve(n int)
	ActiveWorkers() metrics.MetricsGauge
}

// Config controls a pipeline run.
type Config struct {
	Model     string  // name recorded on reports
	Workers   int     // concurrent attributions, default 1
	Tolerance float64 // additivity tolerance, default attribution.DefaultTolerance
}

// Pipeline explains every instance of a dataset with one explainer.
type Pipeline struct {
	adapter   *model.Adapter
	explainer attribution.Explainer
	cfg       Config
	metrics   MetricsInterface
}

// New builds the explainer for opts and wraps it in a pipeline. m may be nil.
func New(adapter *model.Adapter, background *dataset.Dataset, opts attribution.Options, cfg Config, m MetricsInterface) (*Pipeline, error) {
	e, err := attribution.New(adapter, background, opts)
	if err != nil {
		return nil, err
	}
	return NewWithExplainer(adapter, e, cfg, m), nil
}

// NewWithExplainer wraps an existing explainer.
func NewWithExplainer(adapter *model.Adapter, e attribution.Explainer, cfg Config, m MetricsInterface) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = attribution.DefaultTolerance
	}
	return &Pipeline{adapter: adapter, explainer: e, cfg: cfg, metrics: m}
}

// Method returns the attribution method in use.
func (p *Pipeline) Method() string {
	return p.explainer.Method()
}

// Adapter returns the model adapter.
func (p *Pipeline) Adapter() *model.Adapter {
	return p.adapter
}

// Run attributes every instance of ds and aggregates the results.
//
// Schema violations, model failures and broken additivity abort the run. A
// surrogate that does not converge is recorded on the report and the run
// continues with its low-confidence attribution.
func (p *Pipeline) Run(ctx context.Context, ds *dataset.Dataset) (*Report, error) {
	if ds.Len() == 0 {
		return nil, dataset.ErrEmptyDataset
	}
	if err := p.adapter.ValidateDataset(ds); err != nil {
		return nil, err
	}

	start := time.Now()
	n := ds.Len()
	attrs := make([]attribution.Attribution, n)
	instErrs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i, in := range ds.Instances {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			a, err := p.attribute(gctx, in)
			var convErr *attribution.ConvergenceError
			if err != nil && !errors.As(err, &convErr) {
				return fmt.Errorf("instance %d: %w", i, err)
			}
			if checkErr := attribution.CheckAdditivity(a, p.cfg.Tolerance); checkErr != nil {
				return fmt.Errorf("instance %d: %w", i, checkErr)
			}
			attrs[i] = a
			instErrs[i] = err
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranking, err := importance.Aggregate(attrs)
	if err != nil {
		return nil, err
	}

	report := &Report{
		ID:           uuid.NewString(),
		Model:        p.cfg.Model,
		Method:       p.explainer.Method(),
		OutputSpace:  p.adapter.OutputSpace(),
		CreatedAt:    time.Now().UTC(),
		Duration:     time.Since(start),
		Attributions: attrs,
		Ranking:      ranking,
	}
	for i, a := range attrs {
		if a.LowConfidence {
			report.LowConfidence++
		}
		if instErrs[i] != nil {
			report.Errors = append(report.Errors, InstanceError{Index: i, Message: instErrs[i].Error()})
		}
	}

	if p.metrics != nil {
		p.metrics.RunInc(report.Method)
	}

	log.Info().
		Str("id", report.ID).
		Str("model", report.Model).
		Str("method", report.Method).
		Int("instances", n).
		Int("low_confidence", report.LowConfidence).
		Dur("duration", report.Duration).
		Msg("Explanation run complete")

	return report, nil
}

func (p *Pipeline) attribute(ctx context.Context, in dataset.Instance) (attribution.Attribution, error) {
	if p.metrics != nil {
		workers := p.metrics.ActiveWorkers()
		workers.Add(1)
		defer workers.Add(-1)
	}

	start := time.Now()
	a, err := p.explainer.Attribute(ctx, in)
	if p.metrics == nil {
		return a, err
	}

	var convErr *attribution.ConvergenceError
	switch {
	case errors.As(err, &convErr):
		p.metrics.ConvergenceFailuresInc()
	case err != nil:
		p.metrics.AttributionFailuresInc()
		return a, err
	}
	p.metrics.AttributionObserve(time.Since(start).Seconds())
	if a.LowConfidence {
		p.metrics.LowConfidenceInc()
	}
	if a.Samples > 0 {
		p.metrics.SurrogateSamplesObserve(a.Samples)
	}
	return a, err
}
