package ldstore

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

// NChromosomes is the number of autosomes a chromosome-split fileset
// covers.
const NChromosomes = 22

// SubChr substitutes a chromosome number into a split-fileset argument.
// An @ placeholder is replaced; without one the number is appended.
func SubChr(arg string, chr int) string {
	if !strings.Contains(arg, "@") {
		arg += "@"
	}
	return strings.ReplaceAll(arg, "@", strconv.Itoa(chr))
}

// ReadFileset reads LD Score tables for a reference argument: a fileset
// prefix, a DuckDB store path, or a comma-separated list of either. With
// split, each prefix names a chromosome-split fileset whose 1..22 parts
// are concatenated. Every fileset is sorted by genomic position and
// stripped of duplicate SNPs; list members are then joined column-wise
// after a SNP identity check, with repeated column names de-duplicated by
// a numeric suffix.
func ReadFileset(arg string, split bool) (*ldscore.Table, error) {
	var tables []*ldscore.Table
	for _, p := range strings.Split(arg, ",") {
		t, err := readPrefix(strings.TrimSpace(p), split)
		if err != nil {
			return nil, err
		}
		sortAndDedup(t)
		tables = append(tables, t)
	}
	out, err := bindColumns(tables)
	if err != nil {
		return nil, err
	}
	renameDuplicates(out.Names)
	return out, nil
}

// ReadWeights reads the regression-weight LD Score table, which must have
// exactly one score column.
func ReadWeights(arg string, split bool) (*ldscore.Table, error) {
	t, err := ReadFileset(arg, split)
	if err != nil {
		return nil, err
	}
	if t.NCols() != 1 {
		return nil, &ldscore.ConfigError{
			Field:   "w-ld",
			Message: fmt.Sprintf("weight LD Scores must have exactly one column, found %d", t.NCols()),
		}
	}
	return t, nil
}

func readPrefix(prefix string, split bool) (*ldscore.Table, error) {
	if strings.HasSuffix(prefix, ".duckdb") {
		store, err := OpenStore(prefix)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.ReadTable()
	}
	if !split {
		return readOne(prefix)
	}
	parts := make([]*ldscore.Table, 0, NChromosomes)
	for c := 1; c <= NChromosomes; c++ {
		t, err := readOne(SubChr(prefix, c))
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	return ldscore.Concat(parts)
}

// readOne reads a single fileset: scores (gzip or plain) plus both count
// files.
func readOne(prefix string) (*ldscore.Table, error) {
	path := prefix + scoreSuffix + ".gz"
	if _, err := os.Stat(path); err != nil {
		path = prefix + scoreSuffix
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("no LD Score file at %s%s(.gz)", prefix, scoreSuffix)
		}
	}
	t, err := readScores(path)
	if err != nil {
		return nil, err
	}
	if t.M, err = readCounts(prefix+mSuffix, t.NCols()); err != nil {
		return nil, err
	}
	if t.M550, err = readCounts(prefix+m550Suffix, t.NCols()); err != nil {
		return nil, err
	}
	return t, nil
}

func readScores(path string) (*ldscore.Table, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open ldscore file: %w", err)
	}
	defer rc.Close()

	scanner := textio.NewScanner(rc)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read ldscore file: %w", err)
		}
		return nil, &textio.ParseError{File: path, Line: 1, Message: "empty LD Score file"}
	}
	header := strings.Fields(scanner.Text())
	if len(header) < 4 || header[0] != "CHR" || header[1] != "SNP" || header[2] != "BP" {
		return nil, &textio.ParseError{File: path, Line: 1, Message: "expected CHR SNP BP plus at least one score column"}
	}

	t := &ldscore.Table{Names: append([]string(nil), header[3:]...)}
	var values []float64
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
		bp, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid position: %s", fields[2])}
		}
		t.Chr = append(t.Chr, fields[0])
		t.SNP = append(t.SNP, fields[1])
		t.BP = append(t.BP, bp)
		for _, f := range fields[3:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid score: %s", f)}
			}
			values = append(values, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ldscore file: %w", err)
	}
	if len(t.SNP) == 0 {
		return nil, &textio.ParseError{File: path, Line: line, Message: "no score rows"}
	}
	t.Scores = mat.NewDense(len(t.SNP), t.NCols(), values)
	return t, nil
}

func readCounts(path string, ncols int) ([]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read M file: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) != ncols {
		return nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("%s has %d entries for %d score columns", path, len(fields), ncols),
		}
	}
	counts := make([]float64, len(fields))
	for i, f := range fields {
		if counts[i], err = strconv.ParseFloat(f, 64); err != nil {
			return nil, &textio.ParseError{File: path, Line: 1, Message: fmt.Sprintf("invalid count: %s", f)}
		}
	}
	return counts, nil
}

// chrLess orders chromosome labels numerically where possible, with
// non-numeric labels after all numeric ones.
func chrLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

// sortAndDedup puts the table in genomic order and drops rows with
// duplicated SNP identifiers, keeping the first.
func sortAndDedup(t *ldscore.Table) {
	perm := make([]int, t.NSNPs())
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(x, y int) bool {
		i, j := perm[x], perm[y]
		if t.Chr[i] != t.Chr[j] {
			return chrLess(t.Chr[i], t.Chr[j])
		}
		return t.BP[i] < t.BP[j]
	})

	seen := make(map[string]bool, len(perm))
	kept := perm[:0]
	for _, i := range perm {
		if seen[t.SNP[i]] {
			continue
		}
		seen[t.SNP[i]] = true
		kept = append(kept, i)
	}

	snp := make([]string, len(kept))
	chr := make([]string, len(kept))
	bp := make([]int, len(kept))
	scores := mat.NewDense(len(kept), t.NCols(), nil)
	for row, i := range kept {
		snp[row] = t.SNP[i]
		chr[row] = t.Chr[i]
		bp[row] = t.BP[i]
		scores.SetRow(row, t.Scores.RawRowView(i))
	}
	t.SNP, t.Chr, t.BP, t.Scores = snp, chr, bp, scores
}

// bindColumns joins the score columns of several tables covering the same
// SNPs in the same order.
func bindColumns(tables []*ldscore.Table) (*ldscore.Table, error) {
	first := tables[0]
	if len(tables) == 1 {
		return first, nil
	}
	ncols := 0
	for _, t := range tables {
		if t.NSNPs() != first.NSNPs() {
			return nil, &ldscore.AlignmentError{
				Message: fmt.Sprintf("filesets cover %d and %d SNPs", first.NSNPs(), t.NSNPs()),
			}
		}
		ncols += t.NCols()
	}
	for _, t := range tables[1:] {
		for i, id := range t.SNP {
			if id != first.SNP[i] {
				return nil, &ldscore.AlignmentError{
					Message: fmt.Sprintf("filesets disagree at row %d: %s vs %s", i+1, first.SNP[i], id),
				}
			}
		}
	}

	out := &ldscore.Table{
		SNP:    first.SNP,
		Chr:    first.Chr,
		BP:     first.BP,
		Scores: mat.NewDense(first.NSNPs(), ncols, nil),
	}
	col := 0
	for _, t := range tables {
		out.Names = append(out.Names, t.Names...)
		out.M = append(out.M, t.M...)
		out.M550 = append(out.M550, t.M550...)
		for j := 0; j < t.NCols(); j++ {
			for i := 0; i < t.NSNPs(); i++ {
				out.Scores.Set(i, col, t.Scores.At(i, j))
			}
			col++
		}
	}
	return out, nil
}

// renameDuplicates appends a numeric suffix to repeated column names so
// concatenated filesets with identical categories stay distinguishable.
func renameDuplicates(names []string) {
	count := make(map[string]int, len(names))
	for i, name := range names {
		n := count[name]
		count[name] = n + 1
		if n > 0 {
			names[i] = fmt.Sprintf("%s_%d", name, n)
		}
	}
}
