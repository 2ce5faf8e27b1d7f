package ldscore

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Table holds per-SNP LD Scores for one or more named score columns,
// together with the per-category SNP counts (M, and M restricted to
// 0.05 < MAF < 0.50) used downstream to normalize regression predictors.
// Tables are produced once per chromosome, concatenated, persisted, and
// consumed read-only afterwards.
type Table struct {
	Names  []string // score column names, e.g. "L2" or "<category>L2"
	SNP    []string
	Chr    []string
	BP     []int
	Scores *mat.Dense // len(SNP) × len(Names)
	M      []float64
	M550   []float64
}

// NSNPs returns the number of SNP rows.
func (t *Table) NSNPs() int { return len(t.SNP) }

// NCols returns the number of score columns.
func (t *Table) NCols() int { return len(t.Names) }

// Validate checks internal shape consistency.
func (t *Table) Validate() error {
	m, k := len(t.SNP), len(t.Names)
	if len(t.Chr) != m || len(t.BP) != m {
		return &AlignmentError{Message: "table metadata columns have unequal lengths"}
	}
	r, c := t.Scores.Dims()
	if r != m || c != k {
		return &AlignmentError{Message: fmt.Sprintf("score matrix is %dx%d, want %dx%d", r, c, m, k)}
	}
	if len(t.M) != k || len(t.M550) != k {
		return &AlignmentError{Message: "M counts do not match score columns"}
	}
	return nil
}

// KeepSNPs returns a copy of the table restricted to the listed SNP IDs,
// preserving row order. The M counts are unchanged: they describe the
// panel the scores were computed over, not the rows kept for printing.
func (t *Table) KeepSNPs(ids map[string]bool) *Table {
	var rows []int
	for i, id := range t.SNP {
		if ids[id] {
			rows = append(rows, i)
		}
	}
	k := t.NCols()
	out := &Table{
		Names: append([]string(nil), t.Names...),
		SNP:   make([]string, len(rows)),
		Chr:   make([]string, len(rows)),
		BP:    make([]int, len(rows)),
		M:     append([]float64(nil), t.M...),
		M550:  append([]float64(nil), t.M550...),
	}
	if len(rows) == 0 {
		out.Scores = &mat.Dense{}
		return out
	}
	out.Scores = mat.NewDense(len(rows), k, nil)
	for j, i := range rows {
		out.SNP[j] = t.SNP[i]
		out.Chr[j] = t.Chr[i]
		out.BP[j] = t.BP[i]
		out.Scores.SetRow(j, t.Scores.RawRowView(i))
	}
	return out
}

// Concat stacks per-chromosome tables in the given order. Score column
// names must agree exactly; M and M_5_50 are summed per category.
func Concat(tables []*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, &AlignmentError{Message: "no tables to concatenate"}
	}
	first := tables[0]
	k := first.NCols()
	total := 0
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if t.NCols() != k {
			return nil, &AlignmentError{Message: "tables have different column counts"}
		}
		for j, name := range t.Names {
			if name != first.Names[j] {
				return nil, &AlignmentError{
					Message: fmt.Sprintf("score column %d named %q in one table, %q in another", j, first.Names[j], name),
				}
			}
		}
		total += t.NSNPs()
	}

	out := &Table{
		Names:  append([]string(nil), first.Names...),
		SNP:    make([]string, 0, total),
		Chr:    make([]string, 0, total),
		BP:     make([]int, 0, total),
		Scores: mat.NewDense(total, k, nil),
		M:      make([]float64, k),
		M550:   make([]float64, k),
	}
	row := 0
	for _, t := range tables {
		out.SNP = append(out.SNP, t.SNP...)
		out.Chr = append(out.Chr, t.Chr...)
		out.BP = append(out.BP, t.BP...)
		for i := 0; i < t.NSNPs(); i++ {
			out.Scores.SetRow(row, t.Scores.RawRowView(i))
			row++
		}
		for j := range t.M {
			out.M[j] += t.M[j]
			out.M550[j] += t.M550[j]
		}
	}
	return out, nil
}
