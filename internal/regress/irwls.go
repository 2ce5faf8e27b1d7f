package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// applyWeights returns copies of x and y with each row scaled by
// w/sum(w). w must be strictly positive.
func applyWeights(x *mat.Dense, y, w []float64) (*mat.Dense, []float64, error) {
	n, p := x.Dims()
	if len(w) != n || len(y) != n {
		return nil, nil, fmt.Errorf("irwls: weight length %d does not match %d rows", len(w), n)
	}
	sum := 0.0
	for i, v := range w {
		if v <= 0 || math.IsNaN(v) {
			return nil, nil, fmt.Errorf("irwls: non-positive weight %g at row %d", v, i)
		}
		sum += v
	}
	xw := mat.NewDense(n, p, nil)
	yw := make([]float64, n)
	for i := range n {
		s := w[i] / sum
		for j := range p {
			xw.Set(i, j, x.At(i, j)*s)
		}
		yw[i] = y[i] * s
	}
	return xw, yw, nil
}

// wlsCoef solves the weighted least squares problem for x, y with row
// weights w (already on the standard-deviation scale).
func wlsCoef(x *mat.Dense, y, w []float64) ([]float64, error) {
	xw, yw, err := applyWeights(x, y, w)
	if err != nil {
		return nil, err
	}
	n, _ := xw.Dims()
	var sol mat.VecDense
	if err := sol.SolveVec(xw, mat.NewVecDense(n, yw)); err != nil {
		c, ok := err.(mat.Condition)
		if !ok || math.IsInf(float64(c), 0) {
			return nil, &SingularDesignError{Message: "weighted least squares failed"}
		}
	}
	return vecSlice(&sol), nil
}

// irwls runs iteratively reweighted least squares: starting from the
// variance weights w0, it refits iterations times, each time replacing
// the weights with those implied by the current coefficients, then runs
// a weighted block jackknife with the final weights. update maps
// coefficients to fresh variance weights. With zero iterations the
// jackknife runs directly on the starting weights.
func irwls(x *mat.Dense, y, w0 []float64, update func(coef []float64) ([]float64, error), iterations int, separators []int, o lstsqOptions) (*JackknifeResult, error) {
	n := len(y)
	w := make([]float64, n)
	for i, v := range w0 {
		w[i] = math.Sqrt(v)
	}
	for range iterations {
		coef, err := wlsCoef(x, y, w)
		if err != nil {
			return nil, err
		}
		next, err := update(coef)
		if err != nil {
			return nil, err
		}
		if len(next) != n {
			return nil, fmt.Errorf("irwls: update returned %d weights for %d rows", len(next), n)
		}
		for i, v := range next {
			w[i] = math.Sqrt(v)
		}
	}
	xw, yw, err := applyWeights(x, y, w)
	if err != nil {
		return nil, err
	}
	return lstsqJackknife(xw, yw, separators, o)
}
