package regress

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/sumstats"
)

// maxCondition is the largest LD Score matrix condition number accepted
// without the invert-anyway override.
const maxCondition = 1e5

// defaultAlleleDropLimit is the share of merged SNPs that allele
// harmonization may drop before the run fails.
const defaultAlleleDropLimit = 0.5

// Diagnostics counts every row the design builder excluded. Exclusions
// are reported, never silent; the counts accompany the design through
// the regression results.
type Diagnostics struct {
	SumstatsSNPs     int      // usable rows in the (first) summary-statistics table
	DroppedTraitJoin int      // absent from the second trait's table (two-trait only)
	DroppedAlleles   int      // failed allele harmonization (two-trait only)
	DroppedRefJoin   int      // absent from the reference LD Score table
	DroppedWJoin     int      // absent from the weight LD Score table
	DroppedChisq     int      // above the chi-square ceiling
	DroppedColumns   []string // zero-variance score columns removed before the join
	SNPs             int      // rows entering the regression
}

// DesignOptions configures the design builders.
type DesignOptions struct {
	// ChisqMax excludes SNPs whose chi-square statistic (or |Z1*Z2| for
	// two traits) is at or above the ceiling. When nil, single-trait
	// multi-category designs default to max(0.001*max(N), 80); all other
	// designs apply no ceiling.
	ChisqMax *float64
	// NoCheckAlleles skips allele harmonization for two-trait designs.
	NoCheckAlleles bool
	// AlleleDropLimit overrides the harmonization drop-rate threshold
	// above which the run fails. Zero means the default of one half.
	AlleleDropLimit float64
	// InvertAnyway accepts condition numbers above the ceiling.
	InvertAnyway bool
}

// H2Design is the aligned input of a single-trait regression: one row
// per SNP surviving every join and filter, in genomic order.
type H2Design struct {
	SNP   []string
	Names []string   // reference LD Score column names
	X     *mat.Dense // reference LD Scores, rows aligned with SNP
	WLD   []float64  // regression-weight LD Scores
	Chisq []float64
	N     []float64
	M     []float64 // per-category SNP counts, aligned with Names
	Diag  Diagnostics
}

// RGDesign is the aligned input of a cross-trait regression, with both
// traits' Z scores harmonized to the same effect allele.
type RGDesign struct {
	SNP    []string
	Names  []string
	X      *mat.Dense
	WLD    []float64
	Z1, Z2 []float64
	N1, N2 []float64
	M      []float64
	Diag   Diagnostics
}

// BuildH2 inner-joins a summary-statistics table with the reference and
// weight LD Score tables on SNP identifier and assembles the regression
// design for a single-trait analysis. m carries the per-category SNP
// counts chosen for normalization (M or M_5_50) and must align with the
// reference table's columns. Rows follow the reference table's genomic
// order, which the block jackknife depends on.
func BuildH2(ss *sumstats.Table, ref, w *ldscore.Table, m []float64, opts DesignOptions) (*H2Design, error) {
	ref, m, dropped, err := dropConstantColumns(ref, m)
	if err != nil {
		return nil, err
	}

	d := &H2Design{Names: ref.Names, M: m}
	d.Diag.DroppedColumns = dropped
	d.Diag.SumstatsSNPs = len(ss.Records)

	byID := make(map[string]*sumstats.Record, len(ss.Records))
	for i := range ss.Records {
		byID[ss.Records[i].SNP] = &ss.Records[i]
	}
	wRow := weightIndex(w)

	matchedRef := 0
	var rows []int
	for i, id := range ref.SNP {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		matchedRef++
		wi, ok := wRow[id]
		if !ok {
			continue
		}
		rows = append(rows, i)
		d.SNP = append(d.SNP, id)
		d.WLD = append(d.WLD, w.Scores.At(wi, 0))
		d.Chisq = append(d.Chisq, rec.Z*rec.Z)
		d.N = append(d.N, rec.N)
	}
	d.Diag.DroppedRefJoin = len(ss.Records) - matchedRef
	d.Diag.DroppedWJoin = matchedRef - len(rows)
	if len(rows) == 0 {
		return nil, &ldscore.AlignmentError{Message: "no SNPs remain after merging summary statistics with LD Scores"}
	}

	ceiling := chisqCeiling(opts.ChisqMax, ref.NCols(), d.N)
	if ceiling != nil {
		keep := rows[:0]
		snp, wld, chisq, n := d.SNP[:0], d.WLD[:0], d.Chisq[:0], d.N[:0]
		for j, i := range rows {
			if d.Chisq[j] >= *ceiling {
				d.Diag.DroppedChisq++
				continue
			}
			keep = append(keep, i)
			snp = append(snp, d.SNP[j])
			wld = append(wld, d.WLD[j])
			chisq = append(chisq, d.Chisq[j])
			n = append(n, d.N[j])
		}
		rows = keep
		d.SNP, d.WLD, d.Chisq, d.N = snp, wld, chisq, n
	}
	if len(rows) == 0 {
		return nil, &ldscore.AlignmentError{Message: "no SNPs remain after the chi-square ceiling"}
	}

	d.X = takeRows(ref.Scores, rows)
	d.Diag.SNPs = len(rows)
	if err := checkCondition(d.X, opts.InvertAnyway); err != nil {
		return nil, err
	}
	return d, nil
}

// BuildRG joins two traits' summary statistics with the LD Score tables
// and harmonizes the second trait's Z scores to the first trait's
// effect alleles. Unmatchable or strand-ambiguous allele pairs drop the
// SNP; the run fails when the drop rate exceeds the configured limit.
func BuildRG(ss1, ss2 *sumstats.Table, ref, w *ldscore.Table, m []float64, opts DesignOptions) (*RGDesign, error) {
	if !opts.NoCheckAlleles && (!ss1.HasAlleles || !ss2.HasAlleles) {
		return nil, &ldscore.ConfigError{
			Field:   "rg",
			Message: "summary statistics lack allele columns; re-run with allele checking disabled or supply A1/A2",
		}
	}

	ref, m, droppedCols, err := dropConstantColumns(ref, m)
	if err != nil {
		return nil, err
	}

	d := &RGDesign{Names: ref.Names, M: m}
	d.Diag.DroppedColumns = droppedCols
	d.Diag.SumstatsSNPs = len(ss1.Records)

	// Harmonize the traits first so the allele drop rate reflects the
	// trait overlap, not the reference panel coverage.
	type pair struct {
		z1, z2, n1, n2 float64
	}
	by2 := make(map[string]*sumstats.Record, len(ss2.Records))
	for i := range ss2.Records {
		by2[ss2.Records[i].SNP] = &ss2.Records[i]
	}
	merged := make(map[string]pair, len(ss1.Records))
	candidates := 0
	for i := range ss1.Records {
		r1 := &ss1.Records[i]
		r2, ok := by2[r1.SNP]
		if !ok {
			d.Diag.DroppedTraitJoin++
			continue
		}
		candidates++
		z2 := r2.Z
		if !opts.NoCheckAlleles {
			match, flip := sumstats.MatchAlleles(r1.A1, r1.A2, r2.A1, r2.A2)
			if !match {
				d.Diag.DroppedAlleles++
				continue
			}
			if flip {
				z2 = -z2
			}
		}
		merged[r1.SNP] = pair{z1: r1.Z, z2: z2, n1: r1.N, n2: r2.N}
	}
	limit := opts.AlleleDropLimit
	if limit == 0 {
		limit = defaultAlleleDropLimit
	}
	if candidates > 0 && float64(d.Diag.DroppedAlleles) > limit*float64(candidates) {
		return nil, &sumstats.AlleleMismatchError{Dropped: d.Diag.DroppedAlleles, Total: candidates}
	}
	if len(merged) == 0 {
		return nil, &ldscore.AlignmentError{Message: "no SNPs shared between the two summary-statistics tables"}
	}

	wRow := weightIndex(w)
	matchedRef := 0
	var rows []int
	for i, id := range ref.SNP {
		p, ok := merged[id]
		if !ok {
			continue
		}
		matchedRef++
		wi, ok := wRow[id]
		if !ok {
			continue
		}
		rows = append(rows, i)
		d.SNP = append(d.SNP, id)
		d.WLD = append(d.WLD, w.Scores.At(wi, 0))
		d.Z1 = append(d.Z1, p.z1)
		d.Z2 = append(d.Z2, p.z2)
		d.N1 = append(d.N1, p.n1)
		d.N2 = append(d.N2, p.n2)
	}
	d.Diag.DroppedRefJoin = len(merged) - matchedRef
	d.Diag.DroppedWJoin = matchedRef - len(rows)
	if len(rows) == 0 {
		return nil, &ldscore.AlignmentError{Message: "no SNPs remain after merging summary statistics with LD Scores"}
	}

	if opts.ChisqMax != nil {
		ceiling := *opts.ChisqMax
		keep := rows[:0]
		snp, wld := d.SNP[:0], d.WLD[:0]
		z1, z2, n1, n2 := d.Z1[:0], d.Z2[:0], d.N1[:0], d.N2[:0]
		for j, i := range rows {
			if math.Abs(d.Z1[j]*d.Z2[j]) >= ceiling {
				d.Diag.DroppedChisq++
				continue
			}
			keep = append(keep, i)
			snp = append(snp, d.SNP[j])
			wld = append(wld, d.WLD[j])
			z1 = append(z1, d.Z1[j])
			z2 = append(z2, d.Z2[j])
			n1 = append(n1, d.N1[j])
			n2 = append(n2, d.N2[j])
		}
		rows = keep
		d.SNP, d.WLD, d.Z1, d.Z2, d.N1, d.N2 = snp, wld, z1, z2, n1, n2
	}
	if len(rows) == 0 {
		return nil, &ldscore.AlignmentError{Message: "no SNPs remain after the chi-square ceiling"}
	}

	d.X = takeRows(ref.Scores, rows)
	d.Diag.SNPs = len(rows)
	if err := checkCondition(d.X, opts.InvertAnyway); err != nil {
		return nil, err
	}
	return d, nil
}

// HsqDesign views one trait of a cross-trait design as a single-trait
// design, sharing the underlying arrays.
func (d *RGDesign) HsqDesign(trait int) *H2Design {
	z, n := d.Z1, d.N1
	if trait == 2 {
		z, n = d.Z2, d.N2
	}
	chisq := make([]float64, len(z))
	for i, v := range z {
		chisq[i] = v * v
	}
	return &H2Design{
		SNP:   d.SNP,
		Names: d.Names,
		X:     d.X,
		WLD:   d.WLD,
		Chisq: chisq,
		N:     n,
		M:     d.M,
		Diag:  d.Diag,
	}
}

// chisqCeiling applies the default outlier ceiling for single-trait
// multi-category designs when none was configured.
func chisqCeiling(set *float64, ncols int, n []float64) *float64 {
	if set != nil {
		return set
	}
	if ncols <= 1 {
		return nil
	}
	maxN := 0.0
	for _, v := range n {
		if v > maxN {
			maxN = v
		}
	}
	c := math.Max(0.001*maxN, 80)
	return &c
}

// dropConstantColumns removes zero-variance score columns, which carry
// no regression information and make the normal equations singular.
func dropConstantColumns(t *ldscore.Table, m []float64) (*ldscore.Table, []float64, []string, error) {
	if len(m) != t.NCols() {
		return nil, nil, nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("%d M entries for %d score columns", len(m), t.NCols()),
		}
	}
	nrows := t.NSNPs()
	var keep []int
	var dropped []string
	for j := 0; j < t.NCols(); j++ {
		constant := true
		first := t.Scores.At(0, j)
		for i := 1; i < nrows; i++ {
			if t.Scores.At(i, j) != first {
				constant = false
				break
			}
		}
		if constant {
			dropped = append(dropped, t.Names[j])
		} else {
			keep = append(keep, j)
		}
	}
	if len(keep) == 0 {
		return nil, nil, nil, &SingularDesignError{Message: "all LD Score columns have zero variance"}
	}
	if len(dropped) == 0 {
		return t, m, nil, nil
	}

	out := &ldscore.Table{
		SNP:    t.SNP,
		Chr:    t.Chr,
		BP:     t.BP,
		Names:  make([]string, len(keep)),
		Scores: mat.NewDense(nrows, len(keep), nil),
		M:      make([]float64, len(keep)),
		M550:   make([]float64, len(keep)),
	}
	mOut := make([]float64, len(keep))
	for c, j := range keep {
		out.Names[c] = t.Names[j]
		out.M[c] = t.M[j]
		out.M550[c] = t.M550[j]
		mOut[c] = m[j]
		for i := 0; i < nrows; i++ {
			out.Scores.Set(i, c, t.Scores.At(i, j))
		}
	}
	return out, mOut, dropped, nil
}

// checkCondition rejects ill-conditioned score matrices before any
// fitting starts, so collinear columns surface as a configuration
// problem rather than a numeric one.
func checkCondition(x *mat.Dense, invertAnyway bool) error {
	_, c := x.Dims()
	if c < 2 {
		return nil
	}
	cond := mat.Cond(x, 2)
	if cond > maxCondition && !invertAnyway {
		return &SingularDesignError{
			Cond:    cond,
			Message: "LD Score matrix is ill-conditioned; remove collinear columns",
		}
	}
	return nil
}

func weightIndex(w *ldscore.Table) map[string]int {
	idx := make(map[string]int, w.NSNPs())
	for i, id := range w.SNP {
		idx[id] = i
	}
	return idx
}

func takeRows(src *mat.Dense, rows []int) *mat.Dense {
	_, c := src.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for r, i := range rows {
		out.SetRow(r, src.RawRowView(i))
	}
	return out
}
