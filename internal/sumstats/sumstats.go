// Package sumstats parses GWAS summary-statistics tables and harmonizes
// alleles across studies.
package sumstats

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/textio"
)

// Record is one SNP's association summary. A1 is the effect allele the Z
// score is signed with respect to; A1/A2 are empty when the table was
// loaded without alleles.
type Record struct {
	SNP string
	A1  string
	A2  string
	Z   float64
	N   float64
}

// Table is a parsed summary-statistics file plus its row-drop counts.
type Table struct {
	Records    []Record
	HasAlleles bool
	DroppedNA  int
	DroppedDup int
}

// missing markers accepted in numeric columns
func isNA(s string) bool {
	switch s {
	case "NA", "NaN", "nan", ".", "":
		return true
	}
	return false
}

// Load parses a .sumstats(.gz) file: a whitespace-separated table whose
// header names at least SNP, Z and N, located by name rather than
// position. Rows with missing values are dropped and counted, as are
// duplicated SNP identifiers (first occurrence kept). With requireAlleles
// the A1 and A2 columns must be present; they are upper-cased on read.
func Load(path string, requireAlleles bool) (*Table, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open sumstats: %w", err)
	}
	defer rc.Close()

	scanner := textio.NewScanner(rc)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read sumstats: %w", err)
		}
		return nil, &textio.ParseError{File: path, Line: 1, Message: "empty sumstats file"}
	}
	header := strings.Fields(scanner.Text())
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"SNP", "Z", "N"} {
		if _, ok := col[name]; !ok {
			return nil, &textio.ParseError{File: path, Line: 1, Message: "missing column " + name}
		}
	}
	_, hasA1 := col["A1"]
	_, hasA2 := col["A2"]
	hasAlleles := hasA1 && hasA2
	if requireAlleles && !hasAlleles {
		return nil, &textio.ParseError{File: path, Line: 1, Message: "missing allele columns A1 and A2"}
	}

	t := &Table{HasAlleles: hasAlleles}
	seen := make(map[string]bool)
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

		rec := Record{SNP: fields[col["SNP"]]}
		zs, ns := fields[col["Z"]], fields[col["N"]]
		if isNA(rec.SNP) || isNA(zs) || isNA(ns) {
			t.DroppedNA++
			continue
		}
		if rec.Z, err = strconv.ParseFloat(zs, 64); err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid Z value: %s", zs)}
		}
		if rec.N, err = strconv.ParseFloat(ns, 64); err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid N value: %s", ns)}
		}
		if hasAlleles {
			rec.A1 = strings.ToUpper(fields[col["A1"]])
			rec.A2 = strings.ToUpper(fields[col["A2"]])
			if isNA(rec.A1) || isNA(rec.A2) {
				t.DroppedNA++
				continue
			}
		}
		if seen[rec.SNP] {
			t.DroppedDup++
			continue
		}
		seen[rec.SNP] = true
		t.Records = append(t.Records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read sumstats: %w", err)
	}
	if len(t.Records) == 0 {
		return nil, &textio.ParseError{File: path, Line: line, Message: "no usable rows"}
	}
	return t, nil
}
