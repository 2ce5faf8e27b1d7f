package regress

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// DefaultNBlocks is the jackknife block count used when none is set.
const DefaultNBlocks = 200

// DefaultTwoStepCutoff is the chi-square cutoff separating the
// intercept step from the slope step when two-step estimation applies.
const DefaultTwoStepCutoff = 30

// irwlsIterations is the number of reweighting passes before the final
// jackknife.
const irwlsIterations = 2

// FitOptions configures a single LD Score regression fit.
type FitOptions struct {
	// NBlocks is the jackknife block count. Zero means DefaultNBlocks;
	// counts above the SNP count are reduced to it.
	NBlocks int
	// Intercept constrains the regression intercept when non-nil.
	Intercept *float64
	// TwoStep enables the two-step estimator with the given chi-square
	// cutoff. Valid only for a single score column with a free
	// intercept.
	TwoStep *float64
	// Workers bounds the jackknife worker pool. Zero means one worker
	// per CPU.
	Workers int
	// InvertAnyway solves singular normal equations with a
	// pseudo-inverse instead of failing.
	InvertAnyway bool
}

func (o FitOptions) blocks(nrow int) int {
	nb := o.NBlocks
	if nb == 0 {
		nb = DefaultNBlocks
	}
	if nb > nrow {
		nb = nrow
	}
	return nb
}

func (o FitOptions) lstsq() lstsqOptions {
	return lstsqOptions{workers: o.Workers, invertAnyway: o.InvertAnyway}
}

// HsqResult is a SNP-heritability estimate. All variance-scale
// quantities are on the observed scale; liability conversion is a
// separate multiplicative step.
type HsqResult struct {
	Names []string  // score column names
	M     []float64 // per-category SNP counts used for normalization
	MTot  float64
	NBar  float64 // mean sample size

	Coef    []float64 // per-SNP variance coefficients
	CoefSE  []float64
	CoefCov *mat.Dense

	Cat   []float64 // per-category h2, coef*M
	CatSE []float64

	Tot   float64 // total h2
	TotSE float64

	Prop         []float64 // share of total h2 per category
	PropSE       []float64
	Enrichment   []float64 // prop h2 over prop SNPs
	EnrichmentSE []float64
	MProp        []float64 // share of SNPs per category

	Intercept   float64
	InterceptSE float64 // NaN when the intercept was constrained
	Constrained bool

	// Ratio is (intercept-1)/(mean chi2 - 1), NaN when the intercept
	// was constrained or mean chi-square is at most 1.
	Ratio   float64
	RatioSE float64

	MeanChisq float64
	LambdaGC  float64

	// TotDelete holds the per-block delete values of the total, used
	// for covariances across estimates sharing the same blocks.
	TotDelete []float64

	Jackknife       *JackknifeResult
	TwoStepFiltered int // SNPs excluded from the two-step intercept fit
}

// Hsq estimates SNP-heritability by regressing chi-square statistics on
// LD Scores with a weighted block jackknife.
func Hsq(d *H2Design, opts FitOptions) (*HsqResult, error) {
	model := &hsqModel{wld: d.WLD, n: d.N, mTot: floats.Sum(d.M)}
	var step1 []bool
	if opts.TwoStep != nil {
		step1 = make([]bool, len(d.Chisq))
		for i, v := range d.Chisq {
			step1[i] = v < *opts.TwoStep
		}
	}
	fit, err := runLDRegression(d.Chisq, d.X, d.N, d.M, model, opts, step1, irwlsIterations)
	if err != nil {
		return nil, err
	}
	r := summarize(fit, d.Names, d.M, opts)
	finishChisq(r, d.Chisq)
	return r, nil
}

// ldFit is the outcome of one regression before model-specific
// summarization. The jackknife estimate vector holds the slope for each
// score column on the N/nbar scale, then the intercept when free.
type ldFit struct {
	jk       *JackknifeResult
	nbar     float64
	filtered int
}

// runLDRegression fits y against the LD Score columns of x with
// variance-model weights. Predictors are scaled by N/mean(N) to keep
// the normal equations well conditioned; coefficients divide back by
// mean(N) in the summary. step1 selects the intercept-estimation subset
// for two-step fits (nil disables); reweight is the IRWLS iteration
// count.
func runLDRegression(y []float64, x *mat.Dense, n, m []float64, model regModel, opts FitOptions, step1 []bool, reweight int) (*ldFit, error) {
	nrow, k := x.Dims()
	if len(y) != nrow || len(n) != nrow {
		return nil, fmt.Errorf("regress: %d score rows, %d responses, %d sample sizes", nrow, len(y), len(n))
	}
	if len(m) != k {
		return nil, fmt.Errorf("regress: %d M entries for %d score columns", len(m), k)
	}
	constrained := opts.Intercept != nil
	if step1 != nil {
		if constrained {
			return nil, &ldscore.ConfigError{Field: "two-step", Message: "two-step estimation requires a free intercept"}
		}
		if k > 1 {
			return nil, &ldscore.ConfigError{Field: "two-step", Message: "two-step estimation supports a single score column"}
		}
	}

	mTot := floats.Sum(m)
	nbar := stat.Mean(n, nil)
	nBlocks := opts.blocks(nrow)

	// Weights always see the raw per-SNP total LD.
	xTot := make([]float64, nrow)
	for i := range xTot {
		xTot[i] = floats.Sum(x.RawRowView(i))
	}

	aggInt := model.nullIntercept()
	if constrained {
		aggInt = *opts.Intercept
	}
	totAgg := aggregate(y, xTot, n, mTot, aggInt)
	w0 := model.modelWeights(nil, xTot, totAgg, aggInt)

	ncols := k
	if !constrained {
		ncols++
	}
	xs := mat.NewDense(nrow, ncols, nil)
	for i := 0; i < nrow; i++ {
		s := n[i] / nbar
		for j := 0; j < k; j++ {
			xs.Set(i, j, x.At(i, j)*s)
		}
		if !constrained {
			xs.Set(i, k, 1)
		}
	}
	yp := y
	if constrained {
		yp = make([]float64, nrow)
		for i, v := range y {
			yp[i] = v - *opts.Intercept
		}
	}

	if step1 != nil {
		return runTwoStep(yp, xs, xTot, w0, model, mTot, nbar, nBlocks, step1, reweight, opts.lstsq())
	}

	update := func(coef []float64) ([]float64, error) {
		tot := mTot * coef[0] / nbar
		ic := aggInt
		if !constrained {
			ic = coef[len(coef)-1]
		}
		return model.modelWeights(nil, xTot, tot, ic), nil
	}
	seps, err := Separators(nrow, nBlocks)
	if err != nil {
		return nil, err
	}
	jk, err := irwls(xs, yp, w0, update, reweight, seps, opts.lstsq())
	if err != nil {
		return nil, err
	}
	return &ldFit{jk: jk, nbar: nbar}, nil
}

// runTwoStep estimates the intercept on the low-signal subset, refits
// the slope on all rows with that intercept fixed, and splices the two
// jackknives so the covariance still derives from one delete-value
// matrix. Block boundaries carry over from the subset to the full rows
// through the kept-row indices.
func runTwoStep(y []float64, xs *mat.Dense, xTot, w0 []float64, model regModel, mTot, nbar float64, nBlocks int, step1 []bool, reweight int, lo lstsqOptions) (*ldFit, error) {
	nrow, _ := xs.Dims()
	idx := make([]int, 0, nrow)
	for i, ok := range step1 {
		if ok {
			idx = append(idx, i)
		}
	}
	n1 := len(idx)
	if n1 == 0 {
		return nil, &ldscore.ConfigError{Field: "two-step", Message: "no SNPs below the two-step cutoff"}
	}

	x1 := mat.NewDense(n1, 2, nil)
	y1 := make([]float64, n1)
	w1 := make([]float64, n1)
	tot1 := make([]float64, n1)
	for r, i := range idx {
		x1.SetRow(r, xs.RawRowView(i))
		y1[r] = y[i]
		w1[r] = w0[i]
		tot1[r] = xTot[i]
	}
	update1 := func(coef []float64) ([]float64, error) {
		return model.modelWeights(idx, tot1, mTot*coef[0]/nbar, coef[1]), nil
	}
	seps1, err := Separators(n1, nBlocks)
	if err != nil {
		return nil, err
	}
	jk1, err := irwls(x1, y1, w1, update1, reweight, seps1, lo)
	if err != nil {
		return nil, err
	}
	stepInt := jk1.Est[1]

	y2 := make([]float64, nrow)
	for i, v := range y {
		y2[i] = v - stepInt
	}
	x2 := mat.NewDense(nrow, 1, nil)
	for i := 0; i < nrow; i++ {
		x2.Set(i, 0, xs.At(i, 0))
	}
	update2 := func(coef []float64) ([]float64, error) {
		return model.modelWeights(nil, xTot, mTot*coef[0]/nbar, stepInt), nil
	}
	seps2 := make([]int, len(seps1))
	seps2[len(seps2)-1] = nrow
	for i := 1; i < len(seps1)-1; i++ {
		seps2[i] = idx[seps1[i]]
	}
	jk2, err := irwls(x2, y2, w0, update2, reweight, seps2, lo)
	if err != nil {
		return nil, err
	}

	// The slope delete values absorb the intercept step's variability
	// through the slope of the response on the intercept column under
	// the initial weights.
	var sw, swx float64
	for i := 0; i < nrow; i++ {
		v := x2.At(i, 0)
		sw += w0[i] * v
		swx += w0[i] * v * v
	}
	c := sw / swx

	nb := len(seps1) - 1
	est := []float64{jk2.Est[0], stepInt}
	del := mat.NewDense(nb, 2, nil)
	for b := 0; b < nb; b++ {
		intDel := jk1.Delete.At(b, 1)
		del.Set(b, 0, jk2.Delete.At(b, 0)-c*(intDel-stepInt))
		del.Set(b, 1, intDel)
	}
	jk := jackknifeFromDelete(est, del)
	jk.Separators = seps2
	jk.Approximate = jk1.Approximate || jk2.Approximate
	return &ldFit{jk: jk, nbar: nbar, filtered: nrow - n1}, nil
}

// summarize converts a fit on the N/nbar scale into variance-scale
// estimates with delta-method standard errors for the derived
// quantities.
func summarize(fit *ldFit, names []string, m []float64, opts FitOptions) *HsqResult {
	k := len(m)
	jk := fit.jk
	nbar := fit.nbar

	r := &HsqResult{
		Names:           names,
		M:               m,
		MTot:            floats.Sum(m),
		NBar:            nbar,
		Constrained:     opts.Intercept != nil,
		Jackknife:       jk,
		TwoStepFiltered: fit.filtered,
	}

	r.Coef = make([]float64, k)
	r.CoefSE = make([]float64, k)
	r.CoefCov = mat.NewDense(k, k, nil)
	for a := 0; a < k; a++ {
		r.Coef[a] = jk.Est[a] / nbar
		for b := 0; b < k; b++ {
			r.CoefCov.Set(a, b, jk.Cov.At(a, b)/(nbar*nbar))
		}
	}
	for j := 0; j < k; j++ {
		r.CoefSE[j] = math.Sqrt(r.CoefCov.At(j, j))
	}

	r.Cat = make([]float64, k)
	r.CatSE = make([]float64, k)
	for j := 0; j < k; j++ {
		r.Cat[j] = m[j] * r.Coef[j]
		r.CatSE[j] = m[j] * r.CoefSE[j]
	}
	r.Tot = floats.Sum(r.Cat)
	var totVar float64
	for a := 0; a < k; a++ {
		for b := 0; b < k; b++ {
			totVar += m[a] * m[b] * r.CoefCov.At(a, b)
		}
	}
	r.TotSE = math.Sqrt(totVar)

	r.MProp = make([]float64, k)
	r.Prop = make([]float64, k)
	r.PropSE = make([]float64, k)
	r.Enrichment = make([]float64, k)
	r.EnrichmentSE = make([]float64, k)
	for j := 0; j < k; j++ {
		r.MProp[j] = m[j] / r.MTot
	}
	if r.Tot != 0 {
		for j := 0; j < k; j++ {
			r.Prop[j] = r.Cat[j] / r.Tot
			var v float64
			for a := 0; a < k; a++ {
				ga := propGrad(j, a, m, r.Cat, r.Tot)
				for b := 0; b < k; b++ {
					v += ga * propGrad(j, b, m, r.Cat, r.Tot) * r.CoefCov.At(a, b)
				}
			}
			r.PropSE[j] = math.Sqrt(v)
			r.Enrichment[j] = r.Prop[j] / r.MProp[j]
			r.EnrichmentSE[j] = r.PropSE[j] / r.MProp[j]
		}
	} else {
		for j := 0; j < k; j++ {
			r.Prop[j] = math.NaN()
			r.PropSE[j] = math.NaN()
			r.Enrichment[j] = math.NaN()
			r.EnrichmentSE[j] = math.NaN()
		}
	}

	if r.Constrained {
		r.Intercept = *opts.Intercept
		r.InterceptSE = math.NaN()
	} else {
		r.Intercept = jk.Est[k]
		r.InterceptSE = jk.SE[k]
	}

	nb := jk.NBlocks()
	r.TotDelete = make([]float64, nb)
	for b := 0; b < nb; b++ {
		var s float64
		for j := 0; j < k; j++ {
			s += m[j] * jk.Delete.At(b, j)
		}
		r.TotDelete[b] = s / nbar
	}
	return r
}

// propGrad is the partial derivative of the proportion of total for
// category j with respect to coefficient a.
func propGrad(j, a int, m, cat []float64, tot float64) float64 {
	g := -cat[j] * m[a]
	if a == j {
		g += m[j] * tot
	}
	return g / (tot * tot)
}

// finishChisq fills the chi-square summary statistics and the
// intercept ratio.
func finishChisq(r *HsqResult, chisq []float64) {
	r.MeanChisq = stat.Mean(chisq, nil)
	r.LambdaGC = lambdaGC(chisq)
	r.Ratio = math.NaN()
	r.RatioSE = math.NaN()
	if !r.Constrained && r.MeanChisq > 1 {
		r.Ratio = (r.Intercept - 1) / (r.MeanChisq - 1)
		r.RatioSE = r.InterceptSE / (r.MeanChisq - 1)
	}
}

// lambdaGC is the median chi-square over the null 1-df median.
func lambdaGC(chisq []float64) float64 {
	s := append([]float64(nil), chisq...)
	sort.Float64s(s)
	med := stat.Quantile(0.5, stat.LinInterp, s, nil)
	return med / distuv.ChiSquared{K: 1}.Quantile(0.5)
}

// pZNorm converts an estimate and standard error into a two-sided
// normal test.
func pZNorm(est, se float64) (z, p float64) {
	z = est / se
	p = 2 * distuv.UnitNormal.Survival(math.Abs(z))
	return z, p
}
