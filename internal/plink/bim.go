package plink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

// BIM column layout.
const (
	bimChromosome = iota
	bimVariantID
	bimMorgans
	bimCoordinate
	bimAllele1
	bimAllele2
	bimColumns
)

// parseBIM reads a .bim file into SNP records and verifies that base-pair
// positions are non-decreasing within each chromosome, which windowing
// depends on.
func parseBIM(path string) ([]ldscore.SNPRecord, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open bim: %w", err)
	}
	defer rc.Close()

	var recs []ldscore.SNPRecord
	scanner := textio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < bimColumns {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("expected %d columns, found %d", bimColumns, len(fields))}
		}
		cm, err := strconv.ParseFloat(fields[bimMorgans], 64)
		if err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid genetic distance: %s", fields[bimMorgans])}
		}
		bp, err := strconv.Atoi(fields[bimCoordinate])
		if err != nil {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("invalid position: %s", fields[bimCoordinate])}
		}
		rec := ldscore.SNPRecord{
			ID:  fields[bimVariantID],
			Chr: fields[bimChromosome],
			BP:  bp,
			CM:  cm,
			A1:  fields[bimAllele1],
			A2:  fields[bimAllele2],
		}
		if n := len(recs); n > 0 {
			prev := recs[n-1]
			if prev.Chr == rec.Chr && rec.BP < prev.BP {
				return nil, &ldscore.AlignmentError{
					Message: fmt.Sprintf("%s: positions not sorted at line %d (%s:%d after %s:%d)", path, line, rec.Chr, rec.BP, prev.Chr, prev.BP),
				}
			}
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read bim: %w", err)
	}
	return recs, nil
}
