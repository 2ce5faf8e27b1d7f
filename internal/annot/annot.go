// Package annot builds annotation matrices for partitioned LD Score
// computation, either read from .annot files or derived by binning
// continuous per-SNP values into indicator categories.
package annot

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

// Leading columns of the full .annot format, in order.
var fullHeader = [...]string{"CHR", "BP", "SNP", "CM"}

// Set is an annotation matrix: one row per SNP, one column per category.
// SNPs is nil for thin sets, which carry no identifiers of their own.
type Set struct {
	Names   []string
	Weights *mat.Dense
	SNPs    []string
}

// Load reads an .annot(.gz) file. The full format carries CHR, BP, SNP
// and CM before the category columns; thin files hold category columns
// only, and the caller must say which is which since a thin category may
// legally be named CHR.
func Load(path string, thin bool) (*Set, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open annot: %w", err)
	}
	defer rc.Close()

	scanner := textio.NewScanner(rc)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read annot: %w", err)
		}
		return nil, &textio.ParseError{File: path, Line: 1, Message: "empty annotation file"}
	}
	header := strings.Fields(scanner.Text())

	skip := 0
	if !thin {
		skip = len(fullHeader)
		if len(header) < skip+1 {
			return nil, &textio.ParseError{File: path, Line: 1, Message: "expected CHR BP SNP CM plus at least one category column"}
		}
		for i, want := range fullHeader {
			if header[i] != want {
				return nil, &textio.ParseError{File: path, Line: 1, Message: fmt.Sprintf("column %d is %s, want %s", i+1, header[i], want)}
			}
		}
	} else if len(header) == 0 {
		return nil, &textio.ParseError{File: path, Line: 1, Message: "no category columns"}
	}

	names := append([]string(nil), header[skip:]...)
	var snps []string
	var values []float64
	rows := 0
	line := 1
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(header) {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("expected %d columns, found %d", len(header), len(fields))}
		}
		if !thin {
			snps = append(snps, fields[2])
		}
		for _, f := range fields[skip:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid annotation value: %s", f)}
			}
			values = append(values, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read annot: %w", err)
	}
	if rows == 0 {
		return nil, &textio.ParseError{File: path, Line: line, Message: "no annotation rows"}
	}
	return &Set{
		Names:   names,
		Weights: mat.NewDense(rows, len(names), values),
		SNPs:    snps,
	}, nil
}

// Subset aligns the set with a genotype fileset and keeps the rows that
// survived SNP filtering. ids is the fileset's complete SNP list in file
// order and kept the retained row indices. The set must cover exactly the
// same SNPs in the same order; thin sets are checked on row count alone.
func (s *Set) Subset(ids []string, kept []int) (*Set, error) {
	rows, cols := s.Weights.Dims()
	if rows != len(ids) {
		return nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("annotation has %d rows, genotype fileset has %d SNPs", rows, len(ids)),
		}
	}
	if s.SNPs != nil {
		for i, id := range ids {
			if s.SNPs[i] != id {
				return nil, &ldscore.AlignmentError{
					Message: fmt.Sprintf("annotation row %d is %s, genotype fileset has %s", i+1, s.SNPs[i], id),
				}
			}
		}
	}

	out := mat.NewDense(len(kept), cols, nil)
	snps := make([]string, len(kept))
	for j, idx := range kept {
		out.SetRow(j, s.Weights.RawRowView(idx))
		snps[j] = ids[idx]
	}
	return &Set{Names: append([]string(nil), s.Names...), Weights: out, SNPs: snps}, nil
}

// Annotation converts the set for the LD Score calculator.
func (s *Set) Annotation() *ldscore.Annotation {
	return &ldscore.Annotation{Names: s.Names, Weights: s.Weights}
}

// WriteThin writes the set as a thin .annot.gz file: the category names
// as header, then one weight row per SNP. Thin files align with a
// genotype fileset by row count, so derived annotations round-trip
// through Load with thin set.
func WriteThin(path string, s *Set) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create annot file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	w := bufio.NewWriter(gz)

	if _, err := w.WriteString(strings.Join(s.Names, "\t") + "\n"); err != nil {
		return err
	}
	rows, _ := s.Weights.Dims()
	for i := 0; i < rows; i++ {
		var sb strings.Builder
		for j, v := range s.Weights.RawRowView(i) {
			if j > 0 {
				sb.WriteByte('\t')
			}
			sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		sb.WriteByte('\n')
		if _, err := w.WriteString(sb.String()); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}
