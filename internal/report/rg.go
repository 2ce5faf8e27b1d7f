package report

import (
	"bufio"
	"io"
	"strings"
)

// rgColumns is the header of the genetic-correlation summary table. The
// heritability columns describe the second trait of each pair, matching
// the one-versus-many layout of an rg run.
var rgColumns = []string{
	"p1", "p2",
	"rg", "se", "z", "p",
	"h2_obs", "h2_obs_se",
	"h2_int", "h2_int_se",
	"gcov_int", "gcov_int_se",
}

// RGRow is one trait pair of the summary table.
type RGRow struct {
	P1, P2             string
	RG, SE, Z, P       float64
	H2Obs, H2ObsSE     float64
	H2Int, H2IntSE     float64
	GcovInt, GcovIntSE float64
}

// RGTableWriter accumulates trait pairs into the summary table as each
// pair's regressions complete.
type RGTableWriter struct {
	w *bufio.Writer
}

// NewRGTableWriter creates a writer for the rg summary table.
func NewRGTableWriter(w io.Writer) *RGTableWriter {
	return &RGTableWriter{w: bufio.NewWriter(w)}
}

// WriteHeader writes the header line.
func (tw *RGTableWriter) WriteHeader() error {
	_, err := tw.w.WriteString(strings.Join(rgColumns, "\t") + "\n")
	return err
}

// Write writes a single trait pair.
func (tw *RGTableWriter) Write(r RGRow) error {
	row := []string{
		r.P1, r.P2,
		cell(r.RG), cell(r.SE), cell(r.Z), cell(r.P),
		cell(r.H2Obs), cell(r.H2ObsSE),
		cell(r.H2Int), cell(r.H2IntSE),
		cell(r.GcovInt), cell(r.GcovIntSE),
	}
	_, err := tw.w.WriteString(strings.Join(row, "\t") + "\n")
	return err
}

// Flush flushes any buffered rows to the underlying writer.
func (tw *RGTableWriter) Flush() error {
	return tw.w.Flush()
}

// WriteRGTable writes the whole summary table at once.
func WriteRGTable(w io.Writer, rows []RGRow) error {
	tw := NewRGTableWriter(w)
	if err := tw.WriteHeader(); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tw.Write(r); err != nil {
			return err
		}
	}
	return tw.Flush()
}
