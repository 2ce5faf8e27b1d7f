package report

import (
	"bufio"
	"io"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WriteDeleteValues writes a per-block delete-value vector, one value
// per line, in block order.
func WriteDeleteValues(w io.Writer, values []float64) error {
	bw := bufio.NewWriter(w)
	for _, v := range values {
		if _, err := bw.WriteString(cell(v) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteMatrix writes a named-column matrix: the coefficient delete
// values (one row per jackknife block) or the coefficient covariance
// (one row per coefficient).
func WriteMatrix(w io.Writer, names []string, m mat.Matrix) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(strings.Join(names, "\t") + "\n"); err != nil {
		return err
	}
	rows, cols := m.Dims()
	fields := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			fields[j] = cell(m.At(i, j))
		}
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}
