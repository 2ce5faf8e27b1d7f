package annot

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

func writeAnnot(t *testing.T, content string, gzipped bool) string {
	t.Helper()
	name := "test.annot"
	if gzipped {
		name += ".gz"
	}
	path := filepath.Join(t.TempDir(), name)
	if gzipped {
		f, err := os.Create(path)
		require.NoError(t, err)
		gz := gzip.NewWriter(f)
		_, err = gz.Write([]byte(content))
		require.NoError(t, err)
		require.NoError(t, gz.Close())
		require.NoError(t, f.Close())
	} else {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return path
}

const fullAnnot = "CHR\tBP\tSNP\tCM\tconserved\tenhancer\n" +
	"1\t100\trs1\t0\t1\t0\n" +
	"1\t200\trs2\t0\t0\t1\n" +
	"1\t300\trs3\t0\t1\t1\n" +
	"1\t400\trs4\t0\t0\t0\n"

func TestLoad_FullFormat(t *testing.T) {
	path := writeAnnot(t, fullAnnot, false)

	s, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"conserved", "enhancer"}, s.Names)
	assert.Equal(t, []string{"rs1", "rs2", "rs3", "rs4"}, s.SNPs)
	rows, cols := s.Weights.Dims()
	assert.Equal(t, 4, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, 1.0, s.Weights.At(0, 0))
	assert.Equal(t, 0.0, s.Weights.At(0, 1))
	assert.Equal(t, 1.0, s.Weights.At(2, 1))
}

func TestLoad_FullFormatGzip(t *testing.T) {
	path := writeAnnot(t, fullAnnot, true)

	s, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"conserved", "enhancer"}, s.Names)
}

func TestLoad_Thin(t *testing.T) {
	path := writeAnnot(t, "conserved\tenhancer\n1\t0\n0.5\t1\n", false)

	s, err := Load(path, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"conserved", "enhancer"}, s.Names)
	assert.Nil(t, s.SNPs, "thin sets carry no SNP identifiers")
	assert.Equal(t, 0.5, s.Weights.At(1, 0))
}

func TestLoad_HeaderMismatch(t *testing.T) {
	path := writeAnnot(t, "CHR\tPOS\tSNP\tCM\tcat\n1\t100\trs1\t0\t1\n", false)

	_, err := Load(path, false)
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 1, parseErr.Line)
}

func TestLoad_RaggedRow(t *testing.T) {
	path := writeAnnot(t, "CHR\tBP\tSNP\tCM\tcat\n1\t100\trs1\t0\n", false)

	_, err := Load(path, false)
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 2, parseErr.Line)
}

func TestLoad_BadValue(t *testing.T) {
	path := writeAnnot(t, "CHR\tBP\tSNP\tCM\tcat\n1\t100\trs1\t0\toops\n", false)

	_, err := Load(path, false)
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Message, "oops")
}

func TestLoad_Empty(t *testing.T) {
	path := writeAnnot(t, "", false)

	_, err := Load(path, false)
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestSubset(t *testing.T) {
	path := writeAnnot(t, fullAnnot, false)
	s, err := Load(path, false)
	require.NoError(t, err)

	ids := []string{"rs1", "rs2", "rs3", "rs4"}
	sub, err := s.Subset(ids, []int{0, 2})
	require.NoError(t, err)

	rows, cols := sub.Weights.Dims()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 2, cols)
	assert.Equal(t, []string{"rs1", "rs3"}, sub.SNPs)
	assert.Equal(t, 1.0, sub.Weights.At(1, 0))
	assert.Equal(t, 1.0, sub.Weights.At(1, 1))
}

func TestSubset_RowCountMismatch(t *testing.T) {
	path := writeAnnot(t, fullAnnot, false)
	s, err := Load(path, false)
	require.NoError(t, err)

	_, err = s.Subset([]string{"rs1", "rs2"}, []int{0})
	var alignErr *ldscore.AlignmentError
	require.ErrorAs(t, err, &alignErr)
}

func TestSubset_SNPMismatch(t *testing.T) {
	path := writeAnnot(t, fullAnnot, false)
	s, err := Load(path, false)
	require.NoError(t, err)

	_, err = s.Subset([]string{"rs1", "rsX", "rs3", "rs4"}, []int{0})
	var alignErr *ldscore.AlignmentError
	require.ErrorAs(t, err, &alignErr)
	assert.Contains(t, alignErr.Message, "rsX")
}

func TestSubset_ThinChecksRowCountOnly(t *testing.T) {
	path := writeAnnot(t, "cat\n1\n0\n", false)
	s, err := Load(path, true)
	require.NoError(t, err)

	sub, err := s.Subset([]string{"anything", "goes"}, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 0.0, sub.Weights.At(0, 0))
}

func TestAnnotation(t *testing.T) {
	path := writeAnnot(t, fullAnnot, false)
	s, err := Load(path, false)
	require.NoError(t, err)

	a := s.Annotation()
	assert.Equal(t, s.Names, a.Names)
	assert.Same(t, s.Weights, a.Weights)
}
