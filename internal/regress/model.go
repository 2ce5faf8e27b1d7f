package regress

import "math"

// regModel supplies the variance-model weights for one flavor of LD
// Score regression. idx selects a row subset (nil means all rows), ld
// is the total LD Score for those rows, tot the provisional total h2
// or genetic covariance, and intercept the current regression
// intercept.
type regModel interface {
	nullIntercept() float64
	modelWeights(idx []int, ld []float64, tot, intercept float64) []float64
}

// hsqModel weights a chi-square regression by the reciprocal of the
// squared expected chi-square, divided by the regression SNP LD.
type hsqModel struct {
	wld  []float64
	n    []float64
	mTot float64
}

func (m *hsqModel) nullIntercept() float64 { return 1 }

func (m *hsqModel) modelWeights(idx []int, ld []float64, tot, intercept float64) []float64 {
	hsq := clip(tot, 0, 1)
	w := make([]float64, len(ld))
	for i := range ld {
		r := i
		if idx != nil {
			r = idx[i]
		}
		l := math.Max(ld[i], 1)
		wl := math.Max(m.wld[r], 1)
		c := hsq * m.n[r] / m.mTot
		ev := intercept + c*l
		w[i] = 1 / (2 * ev * ev * wl)
	}
	return w
}

// gencovModel weights a z1*z2 regression by the reciprocal of its
// variance under the bivariate model, divided by the regression SNP
// LD. The per-trait totals and intercepts come from the single-trait
// fits and stay fixed across reweighting.
type gencovModel struct {
	wld    []float64
	n1, n2 []float64
	mTot   float64

	hsq1, hsq2 float64
	int1, int2 float64
}

func (m *gencovModel) nullIntercept() float64 { return 0 }

func (m *gencovModel) modelWeights(idx []int, ld []float64, tot, intercept float64) []float64 {
	h1 := clip(m.hsq1, 0, 1)
	h2 := clip(m.hsq2, 0, 1)
	rhoG := clip(tot, -1, 1)
	w := make([]float64, len(ld))
	for i := range ld {
		r := i
		if idx != nil {
			r = idx[i]
		}
		l := math.Max(ld[i], 1)
		wl := math.Max(m.wld[r], 1)
		a := m.n1[r]*h1*l/m.mTot + m.int1
		b := m.n2[r]*h2*l/m.mTot + m.int2
		c := math.Sqrt(m.n1[r]*m.n2[r])*rhoG*l/m.mTot + intercept
		w[i] = 1 / (wl * (a*b + c*c))
	}
	return w
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

// aggregate is the method-of-moments total used to seed the
// regression weights: M * (mean(y) - intercept) / mean(x*N).
func aggregate(y, xTot, n []float64, mTot, intercept float64) float64 {
	my, mxn := 0.0, 0.0
	for i := range y {
		my += y[i]
		mxn += xTot[i] * n[i]
	}
	my /= float64(len(y))
	mxn /= float64(len(y))
	return mTot * (my - intercept) / mxn
}
