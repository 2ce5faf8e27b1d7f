package plink

import (
	"fmt"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/textio"
)

// parseFAM reads a .fam file and returns the individual IDs (column 2) in
// file order.
func parseFAM(path string) ([]string, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open fam: %w", err)
	}
	defer rc.Close()

	var ids []string
	scanner := textio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 6 {
			return nil, &textio.ParseError{File: path, Line: line, Message: fmt.Sprintf("expected 6 columns, found %d", len(fields))}
		}
		ids = append(ids, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fam: %w", err)
	}
	return ids, nil
}
