package regress

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// CoefficientP is the one-sided p-value for a positive coefficient.
func CoefficientP(coef, se float64) float64 {
	return distuv.UnitNormal.Survival(coef / se)
}

// CellTypeJob names one candidate cell-type LD Score set. Load runs
// lazily so a long candidate list never holds more than one extra
// score table in memory.
type CellTypeJob struct {
	Name string
	Load func() (*ldscore.Table, error)
}

// CellTypeOptions configures a cell-type enrichment scan. The fit
// options apply to every candidate; two-step estimation does not apply
// to joint fits and is ignored.
type CellTypeOptions struct {
	FitOptions
	// AllSNPsM normalizes by the all-SNPs M counts instead of the
	// common-SNP (M_5_50) counts.
	AllSNPsM bool
}

// CellTypeResult is the enrichment of one candidate annotation,
// conditional on the base model. The p-value is one-sided for a
// positive coefficient.
type CellTypeResult struct {
	Name         string
	Coef         float64
	CoefSE       float64
	PValue       float64
	Enrichment   float64
	EnrichmentSE float64
	NCts         int // candidate score columns in this set
	Hsq          *HsqResult
}

// CellTypeScan walks candidate cell-type LD Score sets against a
// shared base design.
type CellTypeScan struct {
	base *H2Design
	jobs []CellTypeJob
	opts CellTypeOptions
	row  map[string]int
	next int
}

// CellTypes prepares a lazy scan of candidate annotations against the
// base design. The summary-statistics join and chi-square filter are
// the base design's, computed once; each Next call loads one candidate
// set, aligns it to the base SNPs and fits chi-square on the joint
// [candidate | base] score matrix with single-pass weights.
func CellTypes(base *H2Design, jobs []CellTypeJob, opts CellTypeOptions) *CellTypeScan {
	row := make(map[string]int, len(base.SNP))
	for i, id := range base.SNP {
		row[id] = i
	}
	return &CellTypeScan{base: base, jobs: jobs, opts: opts, row: row}
}

// Next fits the next candidate set. It returns (nil, nil) when the
// scan is exhausted.
func (s *CellTypeScan) Next() (*CellTypeResult, error) {
	if s.next >= len(s.jobs) {
		return nil, nil
	}
	job := s.jobs[s.next]
	s.next++
	res, err := s.fit(job)
	if err != nil {
		return nil, fmt.Errorf("cell type %s: %w", job.Name, err)
	}
	return res, nil
}

func (s *CellTypeScan) fit(job CellTypeJob) (*CellTypeResult, error) {
	tab, err := job.Load()
	if err != nil {
		return nil, err
	}
	if err := tab.Validate(); err != nil {
		return nil, err
	}

	nrow := len(s.base.SNP)
	kc := tab.NCols()
	kb := len(s.base.Names)

	// Every regression SNP must carry candidate scores; a partial
	// candidate panel would silently zero-fill otherwise.
	x := mat.NewDense(nrow, kc+kb, nil)
	filled := make([]bool, nrow)
	covered := 0
	for i, id := range tab.SNP {
		r, ok := s.row[id]
		if !ok {
			continue
		}
		if !filled[r] {
			filled[r] = true
			covered++
		}
		for j := 0; j < kc; j++ {
			x.Set(r, j, tab.Scores.At(i, j))
		}
	}
	if covered != nrow {
		return nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("cell-type scores cover %d of %d regression SNPs", covered, nrow),
		}
	}
	for i := 0; i < nrow; i++ {
		for j := 0; j < kb; j++ {
			x.Set(i, kc+j, s.base.X.At(i, j))
		}
	}

	mc := tab.M550
	if s.opts.AllSNPsM {
		mc = tab.M
	}
	m := make([]float64, 0, kc+kb)
	m = append(m, mc...)
	m = append(m, s.base.M...)
	names := make([]string, 0, kc+kb)
	names = append(names, tab.Names...)
	names = append(names, s.base.Names...)

	opts := s.opts.FitOptions
	opts.TwoStep = nil
	model := &hsqModel{wld: s.base.WLD, n: s.base.N, mTot: floats.Sum(m)}
	fit, err := runLDRegression(s.base.Chisq, x, s.base.N, m, model, opts, nil, 0)
	if err != nil {
		return nil, err
	}
	hr := summarize(fit, names, m, opts)
	finishChisq(hr, s.base.Chisq)

	res := &CellTypeResult{
		Name:         job.Name,
		Coef:         hr.Coef[0],
		CoefSE:       hr.CoefSE[0],
		Enrichment:   hr.Enrichment[0],
		EnrichmentSE: hr.EnrichmentSE[0],
		NCts:         kc,
		Hsq:          hr,
	}
	res.PValue = CoefficientP(res.Coef, res.CoefSE)
	return res, nil
}
