package report

import (
	"bufio"
	"io"
	"math"
	"sort"
	"strings"
)

// cellTypeColumns is the header of the cell-type enrichment table.
var cellTypeColumns = []string{
	"Name",
	"Coefficient",
	"Coefficient_std_error",
	"Coefficient_P_value",
}

// CellTypeRow is one tested annotation of a cell-type scan.
type CellTypeRow struct {
	Name   string
	Coef   float64
	CoefSE float64
	PValue float64
}

// SortCellTypes orders rows by ascending p-value, NaN last, so the most
// significant annotations lead the table.
func SortCellTypes(rows []CellTypeRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := rows[i].PValue, rows[j].PValue
		if math.IsNaN(pi) {
			return false
		}
		if math.IsNaN(pj) {
			return true
		}
		return pi < pj
	})
}

// WriteCellTypes writes the enrichment table. Rows are written in the
// order given; call SortCellTypes first for the ranked form.
func WriteCellTypes(w io.Writer, rows []CellTypeRow) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(cellTypeColumns, "\t") + "\n"); err != nil {
		return err
	}
	for _, r := range rows {
		row := []string{r.Name, cell(r.Coef), cell(r.CoefSE), cell(r.PValue)}
		if _, err := bw.WriteString(strings.Join(row, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
