package attribution

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"sort"

	"model-explain/internal/dataset"
	"model-explain/internal/model"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Surrogate kernels.
const (
	KernelExponential = "exponential" // LIME proximity kernel
	KernelShapley     = "shapley"     // Kernel SHAP weighting
)

var errSingular = errors.New("surrogate system is singular")

// minBatches is the number of per-batch fits needed before their spread is trusted
// as a standard error estimate.
const minBatches = 3

// SurrogateOptions configures the sampling-based explainer.
type SurrogateOptions struct {
	Kernel       string  `yaml:"kernel"`
	KernelWidth  float64 `yaml:"kernelWidth"`  // 0 means 0.75·√p
	SampleBudget int     `yaml:"sampleBudget"` // maximum perturbed samples per instance
	BatchSize    int     `yaml:"batchSize"`    // samples drawn between refits
	Tolerance    float64 `yaml:"tolerance"`    // max coefficient standard error relative to output spread
	MaxFeatures  int     `yaml:"maxFeatures"`  // 0 keeps every feature
	Ridge        float64 `yaml:"ridge"`
	Seed         int64   `yaml:"seed"`
}

// DefaultSurrogateOptions returns the defaults used for zero fields.
func DefaultSurrogateOptions() SurrogateOptions {
	return SurrogateOptions{
		Kernel:       KernelExponential,
		SampleBudget: 10000,
		BatchSize:    500,
		Tolerance:    0.1,
		Ridge:        1e-6,
	}
}

func (o SurrogateOptions) withDefaults(p int) SurrogateOptions {
	def := DefaultSurrogateOptions()
	if o.Kernel == "" {
		o.Kernel = def.Kernel
	}
	if o.KernelWidth == 0 {
		o.KernelWidth = 0.75 * math.Sqrt(float64(p))
	}
	if o.SampleBudget == 0 {
		o.SampleBudget = def.SampleBudget
	}
	if o.BatchSize == 0 {
		o.BatchSize = def.BatchSize
	}
	if o.Tolerance == 0 {
		o.Tolerance = def.Tolerance
	}
	if o.Ridge == 0 {
		o.Ridge = def.Ridge
	}
	return o
}

func (o SurrogateOptions) validate() error {
	switch o.Kernel {
	case KernelExponential, KernelShapley:
	default:
		return fmt.Errorf("unknown surrogate kernel %q", o.Kernel)
	}
	if o.KernelWidth <= 0 {
		return fmt.Errorf("kernel width must be positive, got %g", o.KernelWidth)
	}
	if o.SampleBudget <= 0 || o.BatchSize <= 0 {
		return fmt.Errorf("sample budget and batch size must be positive, got %d/%d", o.SampleBudget, o.BatchSize)
	}
	if o.Tolerance <= 0 {
		return fmt.Errorf("tolerance must be positive, got %g", o.Tolerance)
	}
	if o.Ridge < 0 || o.MaxFeatures < 0 {
		return fmt.Errorf("ridge and max features must be non-negative")
	}
	return nil
}

// SurrogateExplainer fits a weighted linear model in coalition space around each
// instance. A coalition z keeps feature j at the instance value when z_j = 1 and
// takes it from a random background row when z_j = 0.
//
// With the exponential kernel the fit is constrained to reproduce the prediction at
// z = 1 and the baseline is whatever the fit leaves unexplained. With the Shapley
// kernel it is also pinned to the expected background output at z = 0.
type SurrogateExplainer struct {
	adapter    *model.Adapter
	background [][]float64
	opts       SurrogateOptions
	expected   float64
}

// NewSurrogateExplainer validates options and, for the Shapley kernel, evaluates
// the model on the background.
func NewSurrogateExplainer(adapter *model.Adapter, background *dataset.Dataset, opts SurrogateOptions) (*SurrogateExplainer, error) {
	opts = opts.withDefaults(adapter.Schema().Len())
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := checkBackground(adapter, background); err != nil {
		return nil, err
	}

	e := &SurrogateExplainer{
		adapter:    adapter,
		background: background.Rows(),
		opts:       opts,
	}

	if opts.Kernel == KernelShapley {
		out, err := adapter.Output(e.background)
		if err != nil {
			return nil, fmt.Errorf("background output: %w", err)
		}
		e.expected = stat.Mean(out, nil)
	}

	return e, nil
}

// Method implements Explainer.
func (e *SurrogateExplainer) Method() string {
	if e.opts.Kernel == KernelShapley {
		return MethodKernel
	}
	return MethodLIME
}

// Options returns the effective options.
func (e *SurrogateExplainer) Options() SurrogateOptions {
	return e.opts
}

// samples holds the perturbations drawn so far for one instance.
type samples struct {
	z [][]float64 // coalition vectors of 0/1
	y []float64   // model output
	w []float64   // kernel weight
}

// Attribute implements Explainer. Sampling stops once the standard error of every
// coefficient, estimated from per-batch fits, is within Tolerance of the output
// spread. When the budget runs out first it returns the last fit flagged
// LowConfidence together with a *ConvergenceError.
func (e *SurrogateExplainer) Attribute(ctx context.Context, in dataset.Instance) (Attribution, error) {
	fx, err := prediction(e.adapter, in)
	if err != nil {
		return Attribution{}, err
	}

	p := len(in.Values)
	attr := Attribution{
		Features:    e.adapter.Schema().Names(),
		Prediction:  fx,
		Method:      e.Method(),
		OutputSpace: e.adapter.OutputSpace(),
	}

	// One feature with both endpoints pinned leaves nothing to fit.
	if e.opts.Kernel == KernelShapley && p == 1 {
		attr.Values = []float64{fx - e.expected}
		attr.Baseline = e.expected
		attr.Fit = 1
		return attr, nil
	}

	rng := e.rng(in.Values)
	var (
		set       samples
		batchFits [][]float64
		phi       []float64
		relErr    = math.Inf(1)
		converged bool
	)

	for len(set.y) < e.opts.SampleBudget {
		if err := ctx.Err(); err != nil {
			return Attribution{}, err
		}

		n := min(e.opts.BatchSize, e.opts.SampleBudget-len(set.y))
		var batch samples
		if err := e.draw(rng, in.Values, n, &batch); err != nil {
			return Attribution{}, err
		}
		set.z = append(set.z, batch.z...)
		set.y = append(set.y, batch.y...)
		set.w = append(set.w, batch.w...)

		if bf, err := e.fitSelected(batch, fx, allFeatures(p)); err == nil {
			batchFits = append(batchFits, bf)
		}

		cur, err := e.fit(set, fx, p)
		if err != nil {
			log.Debug().Err(err).Int("samples", len(set.y)).Msg("Surrogate fit failed, drawing more samples")
			continue
		}
		phi = cur

		if len(batchFits) < minBatches {
			continue
		}
		relErr = relativeStdErr(batchFits, spread(set, fx))
		if relErr <= e.opts.Tolerance {
			converged = true
			break
		}
	}

	if phi == nil {
		phi = e.fallback(fx, p)
	}

	attr.Values = phi
	attr.Samples = len(set.y)
	attr.Fit = e.score(set, phi, fx)
	if e.opts.Kernel == KernelShapley {
		attr.Baseline = e.expected
	} else {
		attr.Baseline = fx - attr.Sum()
	}

	if !converged {
		attr.LowConfidence = true
		return attr, &ConvergenceError{Samples: len(set.y), Budget: e.opts.SampleBudget, StdErr: relErr}
	}
	return attr, nil
}

// relativeStdErr estimates the standard error of every coefficient from the spread
// of independent per-batch fits and returns the largest one relative to scale.
func relativeStdErr(fits [][]float64, scale float64) float64 {
	b := float64(len(fits))
	worst := 0.0
	col := make([]float64, len(fits))
	for j := range fits[0] {
		for i, f := range fits {
			col[i] = f[j]
		}
		worst = math.Max(worst, stat.StdDev(col, nil)/math.Sqrt(b))
	}
	if worst == 0 {
		return 0
	}
	if scale == 0 {
		return math.Inf(1)
	}
	return worst / scale
}

// spread is the weighted root mean square gap between the prediction and the
// perturbed outputs. It is the scale a coefficient error is judged against.
func spread(set samples, fx float64) float64 {
	gaps := make([]float64, len(set.y))
	for i, y := range set.y {
		gaps[i] = (fx - y) * (fx - y)
	}
	return math.Sqrt(stat.Mean(gaps, set.w))
}

func allFeatures(p int) []int {
	all := make([]int, p)
	for j := range all {
		all[j] = j
	}
	return all
}

// rng seeds a generator from the configured seed and the instance values so that
// results do not depend on the order instances are processed in.
func (e *SurrogateExplainer) rng(x []float64) *rand.Rand {
	h := fnv.New64a()
	var buf [8]byte
	for _, v := range x {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return rand.New(rand.NewPCG(uint64(e.opts.Seed), h.Sum64()))
}

func (e *SurrogateExplainer) draw(rng *rand.Rand, x []float64, n int, set *samples) error {
	p := len(x)
	rows := make([][]float64, n)
	zs := make([][]float64, n)

	for s := 0; s < n; s++ {
		z := e.coalition(rng, p)
		bg := e.background[rng.IntN(len(e.background))]
		row := make([]float64, p)
		for j := range row {
			if z[j] == 1 {
				row[j] = x[j]
			} else {
				row[j] = bg[j]
			}
		}
		rows[s], zs[s] = row, z
	}

	y, err := e.adapter.Output(rows)
	if err != nil {
		return fmt.Errorf("perturbed output: %w", err)
	}

	for s, z := range zs {
		set.z = append(set.z, z)
		set.y = append(set.y, y[s])
		set.w = append(set.w, e.weight(z))
	}
	return nil
}

func (e *SurrogateExplainer) coalition(rng *rand.Rand, p int) []float64 {
	z := make([]float64, p)
	if e.opts.Kernel == KernelExponential {
		for j := range z {
			if rng.IntN(2) == 1 {
				z[j] = 1
			}
		}
		return z
	}

	// Shapley kernel: coalition size s ∈ [1, p-1] with probability ∝ (p-1)/(s(p-s)),
	// then a uniform subset of that size. Samples are then equally weighted.
	total := 0.0
	for s := 1; s < p; s++ {
		total += shapleySizeWeight(p, s)
	}
	r := rng.Float64() * total
	size := p - 1
	for s := 1; s < p; s++ {
		r -= shapleySizeWeight(p, s)
		if r <= 0 {
			size = s
			break
		}
	}
	for _, j := range rng.Perm(p)[:size] {
		z[j] = 1
	}
	return z
}

func shapleySizeWeight(p, s int) float64 {
	return float64(p-1) / float64(s*(p-s))
}

func (e *SurrogateExplainer) weight(z []float64) float64 {
	if e.opts.Kernel == KernelShapley {
		return 1
	}
	d2 := 0.0
	for _, v := range z {
		d2 += 1 - v
	}
	return math.Exp(-d2 / (e.opts.KernelWidth * e.opts.KernelWidth))
}

// fit returns full-length coefficients. With MaxFeatures set, it keeps the largest
// coefficients of an unrestricted fit and refits on those only.
func (e *SurrogateExplainer) fit(set samples, fx float64, p int) ([]float64, error) {
	phi, err := e.fitSelected(set, fx, allFeatures(p))
	if err != nil || e.opts.MaxFeatures == 0 || e.opts.MaxFeatures >= p {
		return phi, err
	}

	selected := topAbs(phi, e.opts.MaxFeatures)
	return e.fitSelected(set, fx, selected)
}

func (e *SurrogateExplainer) fitSelected(set samples, fx float64, selected []int) ([]float64, error) {
	p := len(set.z[0])
	phi := make([]float64, p)

	if e.opts.Kernel == KernelExponential {
		// fx − y = Σ φ_j (1 − z_j), so g(1) = fx holds by construction.
		coef, err := solveWeighted(set, selected, func(z []float64, j int) float64 {
			return 1 - z[j]
		}, func(i int) float64 {
			return fx - set.y[i]
		}, e.opts.Ridge)
		if err != nil {
			return nil, err
		}
		for k, j := range selected {
			phi[j] = coef[k]
		}
		return phi, nil
	}

	// Shapley kernel: eliminate the last selected feature using Σ φ = fx − E.
	delta := fx - e.expected
	last := selected[len(selected)-1]
	if len(selected) == 1 {
		phi[last] = delta
		return phi, nil
	}
	free := selected[:len(selected)-1]
	coef, err := solveWeighted(set, free, func(z []float64, j int) float64 {
		return z[j] - z[last]
	}, func(i int) float64 {
		return set.y[i] - e.expected - set.z[i][last]*delta
	}, e.opts.Ridge)
	if err != nil {
		return nil, err
	}
	rest := delta
	for k, j := range free {
		phi[j] = coef[k]
		rest -= coef[k]
	}
	phi[last] = rest
	return phi, nil
}

// solveWeighted solves the ridge normal equations (XᵀWX + λI) β = XᵀWt.
func solveWeighted(set samples, cols []int, design func(z []float64, j int) float64, target func(i int) float64, ridge float64) ([]float64, error) {
	k := len(cols)
	a := mat.NewSymDense(k, nil)
	b := mat.NewVecDense(k, nil)
	x := make([]float64, k)

	for i, z := range set.z {
		w := set.w[i]
		if w == 0 {
			continue
		}
		for c, j := range cols {
			x[c] = design(z, j)
		}
		t := target(i)
		for r := 0; r < k; r++ {
			if x[r] == 0 {
				continue
			}
			b.SetVec(r, b.AtVec(r)+w*x[r]*t)
			for c := r; c < k; c++ {
				a.SetSym(r, c, a.At(r, c)+w*x[r]*x[c])
			}
		}
	}
	for r := 0; r < k; r++ {
		a.SetSym(r, r, a.At(r, r)+ridge)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errSingular
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, b); err != nil {
		return nil, fmt.Errorf("%w: %v", errSingular, err)
	}

	out := make([]float64, k)
	for r := range out {
		out[r] = beta.AtVec(r)
	}
	return out, nil
}

// score is the weighted R² of the surrogate on the drawn samples.
func (e *SurrogateExplainer) score(set samples, phi []float64, fx float64) float64 {
	if len(set.y) == 0 {
		return 0
	}
	estimates := make([]float64, len(set.y))
	residual := 0.0
	for i, z := range set.z {
		g := 0.0
		if e.opts.Kernel == KernelShapley {
			g = e.expected
			for j, v := range z {
				g += phi[j] * v
			}
		} else {
			g = fx
			for j, v := range z {
				g -= phi[j] * (1 - v)
			}
		}
		estimates[i] = g
		residual += math.Abs(g - set.y[i])
	}

	r2 := stat.RSquaredFrom(estimates, set.y, set.w)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		// Constant outputs: perfect when the surrogate reproduces them.
		if residual < 1e-12*float64(len(set.y)) {
			return 1
		}
		return 0
	}
	return r2
}

// fallback spreads the prediction gap when no fit ever succeeded.
func (e *SurrogateExplainer) fallback(fx float64, p int) []float64 {
	phi := make([]float64, p)
	if e.opts.Kernel == KernelShapley {
		for j := range phi {
			phi[j] = (fx - e.expected) / float64(p)
		}
	}
	return phi
}

// topAbs returns the indices of the n largest |v|, in index order.
func topAbs(v []float64, n int) []int {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(v[idx[a]]) > math.Abs(v[idx[b]])
	})
	idx = idx[:n]
	sort.Ints(idx)
	return idx
}
