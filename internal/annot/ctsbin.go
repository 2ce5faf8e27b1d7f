package annot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

// ReadValues reads a two-column (SNP, value) continuous annotation file
// with no header. The SNP column must match the genotype fileset's
// complete SNP list exactly, in order.
func ReadValues(path string, ids []string) ([]float64, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open cts file: %w", err)
	}
	defer rc.Close()

	values := make([]float64, 0, len(ids))
	scanner := textio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, &textio.ParseError{File: path, Line: line, Message: "expected SNP and value columns"}
		}
		if len(values) >= len(ids) {
			return nil, &ldscore.AlignmentError{
				Message: fmt.Sprintf("%s has more rows than the genotype fileset has SNPs (%d)", path, len(ids)),
			}
		}
		if fields[0] != ids[len(values)] {
			return nil, &ldscore.AlignmentError{
				Message: fmt.Sprintf("%s row %d is %s, genotype fileset has %s", path, line, fields[0], ids[len(values)]),
			}
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid value: %s", fields[1])}
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read cts file: %w", err)
	}
	if len(values) != len(ids) {
		return nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("%s has %d rows, genotype fileset has %d SNPs", path, len(values), len(ids)),
		}
	}
	return values, nil
}

// ParseBreaks parses the break-point option syntax: per-file lists
// separated by 'x', values within a list by ',', with 'N' standing in for
// a leading minus sign so that negative breaks survive flag parsing.
func ParseBreaks(s string, nFiles int) ([][]float64, error) {
	parts := strings.Split(strings.ReplaceAll(s, "N", "-"), "x")
	if len(parts) != nFiles {
		return nil, &ldscore.ConfigError{
			Field:   "cts-breaks",
			Message: fmt.Sprintf("%d break lists for %d cts files", len(parts), nFiles),
		}
	}
	breaks := make([][]float64, len(parts))
	for i, part := range parts {
		for _, tok := range strings.Split(part, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
			if err != nil {
				return nil, &ldscore.ConfigError{Field: "cts-breaks", Message: fmt.Sprintf("invalid break point: %s", tok)}
			}
			breaks[i] = append(breaks[i], v)
		}
	}
	return breaks, nil
}

// cut assigns each value to the half-open interval (edges[k], edges[k+1]]
// it falls in, or -1 when outside every interval.
func cut(values []float64, edges []float64) []int {
	bins := make([]int, len(values))
	for i, v := range values {
		bins[i] = -1
		for k := 0; k+1 < len(edges); k++ {
			if edges[k] < v && v <= edges[k+1] {
				bins[i] = k
				break
			}
		}
	}
	return bins
}

// binOne cuts one continuous vector at its break points, extending the
// break list to the value range when needed. The lowest and highest edges
// are labeled min and max so that category names stay identical across
// chromosomes with different value ranges.
func binOne(values, breaks []float64) (bins []int, labels []string, err error) {
	mn, mx := values[0], values[0]
	for _, v := range values[1:] {
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}

	all := func(edges []float64, pred func(float64) bool) bool {
		for _, b := range edges {
			if !pred(b) {
				return false
			}
		}
		return true
	}

	cutEdges := append([]float64(nil), breaks...)
	nameEdges := append([]float64(nil), breaks...)
	if all(cutEdges, func(b float64) bool { return b >= mx }) || all(cutEdges, func(b float64) bool { return b <= mn }) {
		return nil, nil, &ldscore.ConfigError{Field: "cts-breaks", Message: "all breaks lie outside the value range"}
	}
	if all(cutEdges, func(b float64) bool { return b <= mx }) {
		nameEdges = append(nameEdges, mx)
		cutEdges = append(cutEdges, mx+1)
	}
	if all(cutEdges, func(b float64) bool { return b >= mn }) {
		nameEdges = append(nameEdges, mn)
		cutEdges = append(cutEdges, mn-1)
	}
	sort.Float64s(cutEdges)
	sort.Float64s(nameEdges)

	names := make([]string, len(nameEdges))
	for i, b := range nameEdges {
		names[i] = strconv.FormatFloat(b, 'g', -1, 64)
	}
	names[0] = "min"
	names[len(names)-1] = "max"

	labels = make([]string, len(cutEdges)-1)
	for k := range labels {
		labels[k] = names[k] + "_" + names[k+1]
	}
	return cut(values, cutEdges), labels, nil
}

// Bin cuts each continuous vector at its break points and crosses the
// per-file bins into product indicator categories, one row per SNP. A SNP
// outside any bin of any file gets an all-zero row. Category names join
// the file name with the bin label, file by file.
func Bin(values [][]float64, breaks [][]float64, names []string) (*Set, error) {
	if len(values) == 0 {
		return nil, &ldscore.ConfigError{Field: "cts-bin", Message: "no cts files"}
	}
	if len(breaks) != len(values) || len(names) != len(values) {
		return nil, &ldscore.ConfigError{
			Field:   "cts-bin",
			Message: fmt.Sprintf("%d files, %d break lists, %d names", len(values), len(breaks), len(names)),
		}
	}

	nSNP := len(values[0])
	bins := make([][]int, len(values))
	labels := make([][]string, len(values))
	for i := range values {
		if len(values[i]) != nSNP {
			return nil, &ldscore.AlignmentError{Message: "cts files cover different numbers of SNPs"}
		}
		var err error
		bins[i], labels[i], err = binOne(values[i], breaks[i])
		if err != nil {
			return nil, err
		}
	}

	// product categories in file order, last file's bins fastest
	nCat := 1
	for _, labs := range labels {
		nCat *= len(labs)
	}
	strides := make([]int, len(labels))
	stride := 1
	for i := len(labels) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= len(labels[i])
	}

	catNames := make([]string, nCat)
	for c := range catNames {
		parts := make([]string, len(labels))
		rem := c
		for i := range labels {
			parts[i] = names[i] + "_" + labels[i][rem/strides[i]]
			rem %= strides[i]
		}
		catNames[c] = strings.Join(parts, "_")
	}

	weights := mat.NewDense(nSNP, nCat, nil)
	for s := range nSNP {
		col := 0
		ok := true
		for i := range bins {
			if bins[i][s] < 0 {
				ok = false
				break
			}
			col += bins[i][s] * strides[i]
		}
		if ok {
			weights.Set(s, col, 1)
		}
	}
	return &Set{Names: catNames, Weights: weights}, nil
}
