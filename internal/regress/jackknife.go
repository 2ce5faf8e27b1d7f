// Package regress implements LD Score regression: block-jackknife
// weighted least squares, single-trait heritability and cross-trait
// genetic covariance estimators, and the derived summary quantities.
package regress

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// JackknifeResult holds a delete-one-block jackknife fit.
type JackknifeResult struct {
	Est        []float64  // full-data estimate, length p
	Delete     *mat.Dense // nBlocks x p delete values
	Pseudo     *mat.Dense // nBlocks x p pseudovalues
	Cov        *mat.Dense // p x p jackknife covariance
	SE         []float64  // sqrt of Cov diagonal
	Separators []int      // block boundaries, length nBlocks+1

	// Approximate is set when a singular system was solved with a
	// pseudo-inverse instead of failing.
	Approximate bool
}

// NBlocks returns the number of jackknife blocks.
func (j *JackknifeResult) NBlocks() int { return len(j.Separators) - 1 }

// Separators returns nBlocks+1 block boundaries over n rows, evenly
// spaced and rounded down so every row lands in exactly one block.
func Separators(n, nBlocks int) ([]int, error) {
	if nBlocks < 1 {
		return nil, &ldscore.ConfigError{Field: "n-blocks", Message: "must be at least 1"}
	}
	if nBlocks > n {
		return nil, &ldscore.ConfigError{Field: "n-blocks", Message: fmt.Sprintf("%d blocks requested but only %d rows available", nBlocks, n)}
	}
	s := make([]int, nBlocks+1)
	for i := range nBlocks + 1 {
		s[i] = i * n / nBlocks
	}
	return s, nil
}

// LstsqJackknife fits y ~ x by least squares with a delete-one-block
// jackknife over nBlocks contiguous blocks. Rows must already carry
// any regression weights. workers bounds the per-block solve pool;
// zero means one per CPU.
func LstsqJackknife(x *mat.Dense, y []float64, nBlocks, workers int) (*JackknifeResult, error) {
	n, _ := x.Dims()
	seps, err := Separators(n, nBlocks)
	if err != nil {
		return nil, err
	}
	return lstsqJackknife(x, y, seps, lstsqOptions{workers: workers})
}

type lstsqOptions struct {
	workers      int
	invertAnyway bool
}

// lstsqJackknife fits y ~ x by least squares with a delete-one-block
// jackknife over contiguous blocks. x and y must already carry any
// regression weights. The covariance is computed from the delete
// values; the estimate comes from the full data.
func lstsqJackknife(x *mat.Dense, y []float64, separators []int, o lstsqOptions) (*JackknifeResult, error) {
	n, p := x.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("jackknife: x has %d rows but y has %d", n, len(y))
	}
	nBlocks := len(separators) - 1

	// Per-block normal equations, computed in parallel into
	// block-indexed slots.
	xtx := make([]*mat.Dense, nBlocks)
	xty := make([]*mat.VecDense, nBlocks)
	yv := mat.NewVecDense(n, y)

	workers := o.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > nBlocks {
		workers = nBlocks
	}

	jobs := make(chan int, nBlocks)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for b := range jobs {
				lo, hi := separators[b], separators[b+1]
				xb := x.Slice(lo, hi, 0, p)
				yb := yv.SliceVec(lo, hi)
				g := mat.NewDense(p, p, nil)
				g.Mul(xb.T(), xb)
				v := mat.NewVecDense(p, nil)
				v.MulVec(xb.T(), yb)
				xtx[b] = g
				xty[b] = v
			}
		}()
	}
	for b := range nBlocks {
		jobs <- b
	}
	close(jobs)
	wg.Wait()

	// Serial reduction keeps the totals deterministic.
	xtxTot := mat.NewDense(p, p, nil)
	xtyTot := mat.NewVecDense(p, nil)
	for b := range nBlocks {
		xtxTot.Add(xtxTot, xtx[b])
		xtyTot.AddVec(xtyTot, xty[b])
	}

	est, approx, err := solveNormal(xtxTot, xtyTot, o.invertAnyway)
	if err != nil {
		return nil, err
	}

	del := mat.NewDense(nBlocks, p, nil)
	delErrs := make([]error, nBlocks)
	delApprox := make([]bool, nBlocks)
	jobs = make(chan int, nBlocks)
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for b := range jobs {
				a := mat.NewDense(p, p, nil)
				a.Sub(xtxTot, xtx[b])
				v := mat.NewVecDense(p, nil)
				v.SubVec(xtyTot, xty[b])
				sol, ap, err := solveNormal(a, v, o.invertAnyway)
				if err != nil {
					delErrs[b] = err
					continue
				}
				delApprox[b] = ap
				del.SetRow(b, sol)
			}
		}()
	}
	for b := range nBlocks {
		jobs <- b
	}
	close(jobs)
	wg.Wait()
	for b := range nBlocks {
		if delErrs[b] != nil {
			return nil, fmt.Errorf("jackknife block %d: %w", b, delErrs[b])
		}
		approx = approx || delApprox[b]
	}

	jk := jackknifeFromDelete(est, del)
	jk.Separators = append([]int(nil), separators...)
	jk.Approximate = approx
	return jk, nil
}

// jackknifeFromDelete derives pseudovalues, covariance, and standard
// errors from a full-data estimate and its delete values.
func jackknifeFromDelete(est []float64, del *mat.Dense) *JackknifeResult {
	nBlocks, p := del.Dims()
	nb := float64(nBlocks)

	pseudo := mat.NewDense(nBlocks, p, nil)
	for b := range nBlocks {
		for j := range p {
			pseudo.Set(b, j, nb*est[j]-(nb-1)*del.At(b, j))
		}
	}

	mean := make([]float64, p)
	for j := range p {
		s := 0.0
		for b := range nBlocks {
			s += del.At(b, j)
		}
		mean[j] = s / nb
	}
	cov := mat.NewDense(p, p, nil)
	for i := range p {
		for j := i; j < p; j++ {
			s := 0.0
			for b := range nBlocks {
				s += (del.At(b, i) - mean[i]) * (del.At(b, j) - mean[j])
			}
			c := (nb - 1) / nb * s
			cov.Set(i, j, c)
			cov.Set(j, i, c)
		}
	}
	se := make([]float64, p)
	for j := range p {
		se[j] = math.Sqrt(cov.At(j, j))
	}
	return &JackknifeResult{Est: est, Delete: del, Pseudo: pseudo, Cov: cov, SE: se}
}

// solveNormal solves the normal equations a*sol = b. A singular
// system is a SingularDesignError unless invertAnyway is set, in
// which case an SVD pseudo-inverse is used and approx is true.
func solveNormal(a *mat.Dense, b *mat.VecDense, invertAnyway bool) (sol []float64, approx bool, err error) {
	p, _ := a.Dims()
	var v mat.VecDense
	serr := v.SolveVec(a, b)
	if serr == nil {
		return vecSlice(&v), false, nil
	}
	var cond float64
	if c, ok := serr.(mat.Condition); ok {
		cond = float64(c)
		if !math.IsInf(cond, 0) {
			// Ill-conditioned but solved.
			return vecSlice(&v), false, nil
		}
	}
	if !invertAnyway {
		return nil, false, &SingularDesignError{Cond: cond, Message: "normal equations are singular"}
	}
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, false, &SingularDesignError{Message: "SVD of normal equations failed"}
	}
	vals := svd.Values(nil)
	eps := math.Nextafter(1, 2) - 1
	tol := float64(p) * vals[0] * eps
	rank := 0
	for _, s := range vals {
		if s > tol {
			rank++
		}
	}
	if rank == 0 {
		return nil, false, &SingularDesignError{Message: "normal equations have rank zero"}
	}
	var sv mat.VecDense
	svd.SolveVecTo(&sv, b, rank)
	return vecSlice(&sv), true, nil
}

func vecSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}
