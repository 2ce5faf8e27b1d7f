package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// GencovResult is a genetic covariance estimate. The embedded fields
// read as covariance-scale quantities; the chi-square summary and
// ratio are NaN because the response is a cross product.
type GencovResult struct {
	HsqResult
	MeanZ1Z2 float64
	ZScore   float64
	PValue   float64
}

// Gencov estimates genetic covariance by regressing Z1*Z2 on LD
// Scores. The two traits' heritabilities and intercepts parameterize
// the regression weights.
func Gencov(d *RGDesign, h1, h2 *HsqResult, opts FitOptions) (*GencovResult, error) {
	nrow := len(d.Z1)
	y := make([]float64, nrow)
	neff := make([]float64, nrow)
	for i := range y {
		y[i] = d.Z1[i] * d.Z2[i]
		neff[i] = math.Sqrt(d.N1[i] * d.N2[i])
	}
	model := &gencovModel{
		wld:  d.WLD,
		n1:   d.N1,
		n2:   d.N2,
		mTot: floats.Sum(d.M),
		hsq1: h1.Tot,
		hsq2: h2.Tot,
		int1: h1.Intercept,
		int2: h2.Intercept,
	}
	var step1 []bool
	if opts.TwoStep != nil {
		step1 = make([]bool, nrow)
		for i := range step1 {
			step1[i] = d.Z1[i]*d.Z1[i] < *opts.TwoStep && d.Z2[i]*d.Z2[i] < *opts.TwoStep
		}
	}
	fit, err := runLDRegression(y, d.X, neff, d.M, model, opts, step1, irwlsIterations)
	if err != nil {
		return nil, err
	}
	r := &GencovResult{HsqResult: *summarize(fit, d.Names, d.M, opts)}
	r.MeanChisq = math.NaN()
	r.LambdaGC = math.NaN()
	r.Ratio = math.NaN()
	r.RatioSE = math.NaN()
	r.MeanZ1Z2 = stat.Mean(y, nil)
	r.ZScore, r.PValue = pZNorm(r.Tot, r.TotSE)
	return r, nil
}

// RGOptions configures a genetic-correlation run.
type RGOptions struct {
	NBlocks         int
	InterceptH1     *float64
	InterceptH2     *float64
	InterceptGencov *float64
	TwoStep         *float64
	Workers         int
	InvertAnyway    bool
}

// RGResult is a genetic-correlation estimate with its three component
// regressions. RG and its derived statistics are NaN when either
// heritability is non-positive; the components are still reported.
type RGResult struct {
	Hsq1   *HsqResult
	Hsq2   *HsqResult
	Gencov *GencovResult

	RG         float64
	RGSE       float64
	ZScore     float64
	PValue     float64
	NegativeH2 bool
}

// RG estimates the genetic correlation between two traits: both
// heritabilities, the genetic covariance, and their ratio
// gencov/sqrt(h2_1*h2_2). The standard error comes from the delta
// method over the jackknife covariance of the three totals, whose
// delete values share block boundaries on the common design.
func RG(d *RGDesign, opts RGOptions) (*RGResult, error) {
	fit := func(ic *float64) FitOptions {
		return FitOptions{
			NBlocks:      opts.NBlocks,
			Intercept:    ic,
			TwoStep:      opts.TwoStep,
			Workers:      opts.Workers,
			InvertAnyway: opts.InvertAnyway,
		}
	}
	h1, err := Hsq(d.HsqDesign(1), fit(opts.InterceptH1))
	if err != nil {
		return nil, fmt.Errorf("first trait h2: %w", err)
	}
	h2, err := Hsq(d.HsqDesign(2), fit(opts.InterceptH2))
	if err != nil {
		return nil, fmt.Errorf("second trait h2: %w", err)
	}
	g, err := Gencov(d, h1, h2, fit(opts.InterceptGencov))
	if err != nil {
		return nil, fmt.Errorf("genetic covariance: %w", err)
	}

	r := &RGResult{Hsq1: h1, Hsq2: h2, Gencov: g}
	if h1.Tot <= 0 || h2.Tot <= 0 {
		r.NegativeH2 = true
		r.RG = math.NaN()
		r.RGSE = math.NaN()
		r.ZScore = math.NaN()
		r.PValue = math.NaN()
		return r, nil
	}

	denom := math.Sqrt(h1.Tot * h2.Tot)
	r.RG = g.Tot / denom
	cov, err := totalsCov(g.TotDelete, h1.TotDelete, h2.TotDelete)
	if err != nil {
		return nil, err
	}
	grad := []float64{
		1 / denom,
		-r.RG / (2 * h1.Tot),
		-r.RG / (2 * h2.Tot),
	}
	var v float64
	for a := 0; a < 3; a++ {
		for b := 0; b < 3; b++ {
			v += grad[a] * grad[b] * cov.At(a, b)
		}
	}
	r.RGSE = math.Sqrt(v)
	r.ZScore, r.PValue = pZNorm(r.RG, r.RGSE)
	return r, nil
}

// totalsCov is the jackknife covariance of several totals computed
// from their per-block delete values.
func totalsCov(vs ...[]float64) (*mat.SymDense, error) {
	nb := len(vs[0])
	for _, v := range vs[1:] {
		if len(v) != nb {
			return nil, fmt.Errorf("regress: delete-value vectors have %d and %d blocks", nb, len(v))
		}
	}
	means := make([]float64, len(vs))
	for i, v := range vs {
		means[i] = stat.Mean(v, nil)
	}
	out := mat.NewSymDense(len(vs), nil)
	scale := float64(nb-1) / float64(nb)
	for a := range vs {
		for b := a; b < len(vs); b++ {
			var s float64
			for k := 0; k < nb; k++ {
				s += (vs[a][k] - means[a]) * (vs[b][k] - means[b])
			}
			out.SetSym(a, b, scale*s)
		}
	}
	return out, nil
}
