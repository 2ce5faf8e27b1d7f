package ldscore

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GenotypeSource streams standardized genotype columns in SNP order.
// Columns are standardized to mean 0 and population standard deviation 1
// (missing dosages replaced by the column mean; a zero-variance column
// divides by 1 instead, yielding an all-zero column).
type GenotypeSource interface {
	NIndividuals() int
	// NextSNPs returns up to max standardized columns, each of length
	// NIndividuals, advancing through the panel in SNP order. It returns
	// nil, nil after the last SNP.
	NextSNPs(max int) ([][]float64, error)
}

// Annotation is a SNP × category weight matrix with named categories.
// Binary weights mark category membership; continuous or overlapping
// annotations carry arbitrary real weights.
type Annotation struct {
	Names   []string
	Weights *mat.Dense // SNPs × len(Names)
}

// Options configures a Calculator.
type Options struct {
	// ChunkSize bounds how many SNP columns are requested from the
	// genotype source at a time. Results do not depend on it.
	ChunkSize int
	// FreqExp, when set, scales each SNP's contribution by
	// (p(1−p))^FreqExp where p is its allele frequency. An exponent of 1
	// gives per-allele scores.
	FreqExp *float64
}

// DefaultChunkSize is used when Options.ChunkSize is unset.
const DefaultChunkSize = 50

// Calculator computes LD Score tables from a streaming genotype source.
type Calculator struct {
	opts   Options
	logger *zap.Logger
}

// NewCalculator creates a Calculator with the given options.
func NewCalculator(opts Options) *Calculator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Calculator{opts: opts, logger: zap.NewNop()}
}

// SetLogger sets the logger for progress and warning messages.
func (c *Calculator) SetLogger(l *zap.Logger) {
	c.logger = l
}

// panel retains the standardized columns still reachable by upcoming
// windows, so that chunk boundaries never affect which SNP pairs are
// correlated. Columns are appended as chunks arrive and released once no
// later window can reach them.
type panel struct {
	base int // global SNP index of cols[0]
	cols [][]float64
}

func (p *panel) add(cols [][]float64) {
	p.cols = append(p.cols, cols...)
}

func (p *panel) trimTo(keep int) {
	if keep > p.base {
		p.cols = p.cols[keep-p.base:]
		p.base = keep
	}
}

func (p *panel) col(i int) []float64 {
	return p.cols[i-p.base]
}

// Compute consumes the genotype source and returns the LD Score table for
// the given SNP records and windows. For each SNP i the unpartitioned
// score is Σ over window members j of the bias-corrected squared
// correlation r̂²(i,j) − (1−r̂²)/(n−2), self term included. With an
// annotation, each term is weighted by the partner SNP's annotation row,
// producing one score column per category.
func (c *Calculator) Compute(src GenotypeSource, recs []SNPRecord, windows []Window, ann *Annotation) (*Table, error) {
	m := len(recs)
	if len(windows) != m {
		return nil, &AlignmentError{Message: fmt.Sprintf("%d windows for %d SNPs", len(windows), m)}
	}
	for i, w := range windows {
		if w.Lo < 0 || w.Lo > i || w.Hi <= i || w.Hi > m {
			return nil, &AlignmentError{Message: fmt.Sprintf("window %d = [%d,%d) does not contain its SNP", i, w.Lo, w.Hi)}
		}
		if i > 0 && (w.Lo < windows[i-1].Lo || w.Hi < windows[i-1].Hi) {
			return nil, &AlignmentError{Message: fmt.Sprintf("window %d = [%d,%d) not monotone", i, w.Lo, w.Hi)}
		}
	}
	n := src.NIndividuals()
	if n < 2 {
		return nil, &ConfigError{Field: "genotypes", Message: "need at least two individuals"}
	}

	names, eff, err := c.effectiveAnnotation(recs, ann)
	if err != nil {
		return nil, err
	}
	k := len(names)

	c.logger.Info("computing LD Scores",
		zap.Int("snps", m),
		zap.Int("individuals", n),
		zap.Int("categories", k),
		zap.Int("chunk_size", c.opts.ChunkSize))

	cor := mat.NewDense(m, k, nil)
	pnl := &panel{}
	next := 0
	for {
		batch, err := src.NextSNPs(c.opts.ChunkSize)
		if err != nil {
			return nil, fmt.Errorf("read genotype chunk: %w", err)
		}
		if batch == nil {
			break
		}
		if next+len(batch) > m {
			return nil, &AlignmentError{Message: fmt.Sprintf("genotype source yields more than %d SNPs", m)}
		}
		for _, col := range batch {
			if len(col) != n {
				return nil, &AlignmentError{Message: fmt.Sprintf("genotype column has %d individuals, want %d", len(col), n)}
			}
		}

		start := next
		pnl.add(batch)
		next += len(batch)
		for jj, bcol := range batch {
			j := start + jj
			for i := windows[j].Lo; i <= j; i++ {
				r := floats.Dot(pnl.col(i), bcol) / float64(n)
				v := r * r
				if n > 2 {
					v -= (1 - v) / float64(n-2)
				}
				floats.AddScaled(cor.RawRowView(i), v, eff.RawRowView(j))
				if i != j {
					floats.AddScaled(cor.RawRowView(j), v, eff.RawRowView(i))
				}
			}
		}
		if next < m {
			pnl.trimTo(windows[next].Lo)
		}
	}
	if next != m {
		return nil, &AlignmentError{Message: fmt.Sprintf("genotype source ended after %d of %d SNPs", next, m)}
	}

	t := &Table{
		Names:  names,
		SNP:    make([]string, m),
		Chr:    make([]string, m),
		BP:     make([]int, m),
		Scores: cor,
		M:      make([]float64, k),
		M550:   make([]float64, k),
	}
	for i, r := range recs {
		t.SNP[i] = r.ID
		t.Chr[i] = r.Chr
		t.BP[i] = r.BP
		row := eff.RawRowView(i)
		common := r.MAF > 0.05 && r.MAF < 0.50
		for j, w := range row {
			t.M[j] += w
			if common {
				t.M550[j] += w
			}
		}
	}
	return t, nil
}

// effectiveAnnotation builds the weight matrix the score sums run over:
// the supplied annotation (or an implicit all-ones column), with each row
// scaled by (p(1−p))^FreqExp when frequency weighting is on.
func (c *Calculator) effectiveAnnotation(recs []SNPRecord, ann *Annotation) ([]string, *mat.Dense, error) {
	m := len(recs)
	var names []string
	var eff *mat.Dense
	if ann == nil {
		names = []string{"L2"}
		eff = mat.NewDense(m, 1, nil)
		for i := 0; i < m; i++ {
			eff.Set(i, 0, 1)
		}
	} else {
		r, k := ann.Weights.Dims()
		if r != m {
			return nil, nil, &AlignmentError{Message: fmt.Sprintf("annotation has %d rows for %d SNPs", r, m)}
		}
		if k != len(ann.Names) {
			return nil, nil, &AlignmentError{Message: fmt.Sprintf("annotation has %d columns but %d names", k, len(ann.Names))}
		}
		names = make([]string, k)
		for j, name := range ann.Names {
			names[j] = name + "L2"
		}
		eff = mat.DenseCopyOf(ann.Weights)
	}
	if c.opts.FreqExp != nil {
		a := *c.opts.FreqExp
		for i, rec := range recs {
			pq := math.Pow(rec.MAF*(1-rec.MAF), a)
			floats.Scale(pq, eff.RawRowView(i))
		}
	}
	return names, eff, nil
}
