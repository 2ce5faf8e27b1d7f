// Package report writes the tab-separated result tables of a run:
// per-category heritability partitions, genetic-correlation summaries,
// cell-type enrichment rankings, and the jackknife dumps.
package report

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/regress"
)

// resultsColumns is the header of a partitioned heritability table.
var resultsColumns = []string{
	"Category",
	"Prop._SNPs",
	"Prop._h2",
	"Prop._h2_std_error",
	"Enrichment",
	"Enrichment_std_error",
	"Coefficient",
	"Coefficient_std_error",
	"Coefficient_z-score",
}

// cell marks missing values the way the rest of the table format does.
func cell(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// WriteResults writes one row per LD Score category: the share of SNPs
// and of heritability, the enrichment ratio, and the per-SNP
// coefficient, each with its standard error.
func WriteResults(w io.Writer, r *regress.HsqResult) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(resultsColumns, "\t") + "\n"); err != nil {
		return err
	}
	for j, name := range r.Names {
		z := r.Coef[j] / r.CoefSE[j]
		row := []string{
			name,
			cell(r.MProp[j]),
			cell(r.Prop[j]),
			cell(r.PropSE[j]),
			cell(r.Enrichment[j]),
			cell(r.EnrichmentSE[j]),
			cell(r.Coef[j]),
			cell(r.CoefSE[j]),
			cell(z),
		}
		if _, err := bw.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
