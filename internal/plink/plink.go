// Package plink reads PLINK binary filesets (.bed/.bim/.fam) and streams
// standardized genotype columns in SNP order.
package plink

import (
	"fmt"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/textio"
)

// ReadIDList reads a one-identifier-per-line filter file (SNP or
// individual IDs). Only the first whitespace-separated field of each line
// is used; empty lines are skipped.
func ReadIDList(path string) (map[string]bool, error) {
	rc, err := textio.OpenMaybeGzip(path)
	if err != nil {
		return nil, fmt.Errorf("open id list: %w", err)
	}
	defer rc.Close()

	ids := make(map[string]bool)
	scanner := textio.NewScanner(rc)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ids[fields[0]] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id list: %w", err)
	}
	return ids, nil
}
