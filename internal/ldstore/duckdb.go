package ldstore

import (
	"database/sql"
	"fmt"
	"math"

	_ "github.com/marcboeker/go-duckdb"
	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// Store is a DuckDB-backed LD Score table, interchangeable with the TSV
// fileset form. Scores are held long-form, one row per SNP and category,
// so they stay queryable with plain SQL.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates a DuckDB score store at the given path. An
// empty path opens an in-memory database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ensureSchema creates tables if they don't exist.
func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ldscores (
		snp_idx BIGINT,
		snp VARCHAR,
		chr VARCHAR,
		bp BIGINT,
		category VARCHAR,
		l2 DOUBLE
	)`); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS mcounts (
		cat_idx BIGINT,
		category VARCHAR,
		m DOUBLE,
		m_5_50 DOUBLE
	)`)
	return err
}

// WriteTable replaces the store contents with a score table.
func (s *Store) WriteTable(t *ldscore.Table) error {
	if err := t.Validate(); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM ldscores`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM mcounts`); err != nil {
		return err
	}

	insScore, err := tx.Prepare(`INSERT INTO ldscores VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insScore.Close()
	for i := range t.SNP {
		for j, name := range t.Names {
			if _, err := insScore.Exec(i, t.SNP[i], t.Chr[i], t.BP[i], name, t.Scores.At(i, j)); err != nil {
				return fmt.Errorf("insert score row: %w", err)
			}
		}
	}

	insM, err := tx.Prepare(`INSERT INTO mcounts VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer insM.Close()
	for j, name := range t.Names {
		if _, err := insM.Exec(j, name, t.M[j], t.M550[j]); err != nil {
			return fmt.Errorf("insert count row: %w", err)
		}
	}
	return tx.Commit()
}

// ReadTable materializes the store as a score table.
func (s *Store) ReadTable() (*ldscore.Table, error) {
	t := &ldscore.Table{}
	colOf := make(map[string]int)

	rows, err := s.db.Query(`SELECT category, m, m_5_50 FROM mcounts ORDER BY cat_idx`)
	if err != nil {
		return nil, fmt.Errorf("query mcounts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var m, m550 float64
		if err := rows.Scan(&name, &m, &m550); err != nil {
			return nil, fmt.Errorf("scan mcounts: %w", err)
		}
		colOf[name] = len(t.Names)
		t.Names = append(t.Names, name)
		t.M = append(t.M, m)
		t.M550 = append(t.M550, m550)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read mcounts: %w", err)
	}
	if len(t.Names) == 0 {
		return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s has no categories", s.path)}
	}

	var nSNP, nRows sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(snp_idx) + 1, COUNT(*) FROM ldscores`).Scan(&nSNP, &nRows); err != nil {
		return nil, fmt.Errorf("count ldscores: %w", err)
	}
	if !nSNP.Valid || nSNP.Int64 == 0 {
		return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s has no scores", s.path)}
	}
	if nRows.Int64 != nSNP.Int64*int64(len(t.Names)) {
		return nil, &ldscore.AlignmentError{
			Message: fmt.Sprintf("store %s has %d score rows for %d SNPs and %d categories", s.path, nRows.Int64, nSNP.Int64, len(t.Names)),
		}
	}

	m := int(nSNP.Int64)
	t.SNP = make([]string, m)
	t.Chr = make([]string, m)
	t.BP = make([]int, m)
	t.Scores = mat.NewDense(m, len(t.Names), nil)
	// NaN-fill so a duplicated row cannot mask a missing (SNP, category) pair
	for i := 0; i < m; i++ {
		for j := 0; j < len(t.Names); j++ {
			t.Scores.Set(i, j, math.NaN())
		}
	}
	filled := make([]bool, m)

	scoreRows, err := s.db.Query(`SELECT snp_idx, snp, chr, bp, category, l2 FROM ldscores ORDER BY snp_idx`)
	if err != nil {
		return nil, fmt.Errorf("query ldscores: %w", err)
	}
	defer scoreRows.Close()
	for scoreRows.Next() {
		var idx, bp int64
		var snp, chr, category string
		var l2 float64
		if err := scoreRows.Scan(&idx, &snp, &chr, &bp, &category, &l2); err != nil {
			return nil, fmt.Errorf("scan ldscores: %w", err)
		}
		if idx < 0 || idx >= int64(m) {
			return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s has snp_idx %d out of range", s.path, idx)}
		}
		col, ok := colOf[category]
		if !ok {
			return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s has score rows for unknown category %s", s.path, category)}
		}
		i := int(idx)
		if !filled[i] {
			t.SNP[i], t.Chr[i], t.BP[i] = snp, chr, int(bp)
			filled[i] = true
		} else if t.SNP[i] != snp {
			return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s has conflicting SNPs %s and %s at index %d", s.path, t.SNP[i], snp, i)}
		}
		t.Scores.Set(i, col, l2)
	}
	if err := scoreRows.Err(); err != nil {
		return nil, fmt.Errorf("read ldscores: %w", err)
	}
	for i, ok := range filled {
		if !ok {
			return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s is missing scores for snp_idx %d", s.path, i)}
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < len(t.Names); j++ {
			if math.IsNaN(t.Scores.At(i, j)) {
				return nil, &ldscore.AlignmentError{Message: fmt.Sprintf("store %s is missing a score at index %d", s.path, i)}
			}
		}
	}
	return t, nil
}
