// Package ldstore persists LD Score tables: a gzip TSV fileset per output
// prefix, plus an optional DuckDB store for queryable access.
package ldstore

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

const (
	scoreSuffix = ".l2.ldscore"
	mSuffix     = ".l2.M"
	m550Suffix  = ".l2.M_5_50"
)

// WriteFileset writes the three-file TSV form of a score table:
// prefix.l2.ldscore.gz with one row per SNP, and prefix.l2.M /
// prefix.l2.M_5_50 with one tab-separated line of per-category counts.
func WriteFileset(prefix string, t *ldscore.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if err := writeScores(prefix+scoreSuffix+".gz", t); err != nil {
		return err
	}
	if err := writeCounts(prefix+mSuffix, t.M); err != nil {
		return err
	}
	return writeCounts(prefix+m550Suffix, t.M550)
}

func writeScores(path string, t *ldscore.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create ldscore file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	w := bufio.NewWriter(gz)

	header := append([]string{"CHR", "SNP", "BP"}, t.Names...)
	if _, err := w.WriteString(strings.Join(header, "\t") + "\n"); err != nil {
		return err
	}
	for i := range t.SNP {
		row := t.Scores.RawRowView(i)
		var sb strings.Builder
		sb.WriteString(t.Chr[i])
		sb.WriteByte('\t')
		sb.WriteString(t.SNP[i])
		sb.WriteByte('\t')
		sb.WriteString(strconv.Itoa(t.BP[i]))
		for _, v := range row {
			fmt.Fprintf(&sb, "\t%.3f", v)
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

func writeCounts(path string, counts []float64) error {
	fields := make([]string, len(counts))
	for i, v := range counts {
		fields[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	data := strings.Join(fields, "\t") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write M file: %w", err)
	}
	return nil
}
