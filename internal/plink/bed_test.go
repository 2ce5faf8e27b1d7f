package plink

import (
	"compress/gzip"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
	"github.com/inodb/vibe-ldsc/internal/textio"
)

var _ ldscore.GenotypeSource = (*Reader)(nil)

// encodeColumn packs one SNP's dosages into .bed genotype bytes, two bits
// per individual LSB first. NaN encodes the missing genotype.
func encodeColumn(dosages []float64) []byte {
	buf := make([]byte, (len(dosages)+3)/4)
	for i, d := range dosages {
		var code byte
		switch {
		case math.IsNaN(d):
			code = 1
		case d == 0:
			code = 0
		case d == 1:
			code = 2
		default:
			code = 3
		}
		buf[i/4] |= code << (uint(i%4) * 2)
	}
	return buf
}

func writeFileset(t *testing.T, recs []ldscore.SNPRecord, famIDs []string, dosages [][]float64) string {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "test")

	var bim strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&bim, "%s\t%s\t%g\t%d\t%s\t%s\n", rec.Chr, rec.ID, rec.CM, rec.BP, rec.A1, rec.A2)
	}
	require.NoError(t, os.WriteFile(prefix+".bim", []byte(bim.String()), 0o644))

	var fam strings.Builder
	for i, id := range famIDs {
		fmt.Fprintf(&fam, "fam%d\t%s\t0\t0\t0\t-9\n", i+1, id)
	}
	require.NoError(t, os.WriteFile(prefix+".fam", []byte(fam.String()), 0o644))

	bed := []byte{0x6c, 0x1b, 0x01}
	for _, col := range dosages {
		require.Len(t, col, len(famIDs), "dosage column length must match individuals")
		bed = append(bed, encodeColumn(col)...)
	}
	require.NoError(t, os.WriteFile(prefix+".bed", bed, 0o644))
	return prefix
}

func testBIMRecords(n int) []ldscore.SNPRecord {
	recs := make([]ldscore.SNPRecord, n)
	for i := range recs {
		recs[i] = ldscore.SNPRecord{
			ID:  fmt.Sprintf("rs%d", i+1),
			Chr: "1",
			BP:  100 * (i + 1),
			A1:  "A",
			A2:  "G",
		}
	}
	return recs
}

func TestEncodeColumn(t *testing.T) {
	// codes 0, 2, 3, 0 packed LSB first: 0b00_11_10_00.
	assert.Equal(t, []byte{0x38}, encodeColumn([]float64{0, 1, 2, 0}))
	assert.Equal(t, []byte{0x01}, encodeColumn([]float64{math.NaN()}))
}

func TestOpen_RecordsAndFrequencies(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(3), []string{"i1", "i2", "i3"}, [][]float64{
		{0, 1, 2}, // p = 0.5
		{0, 0, 1}, // p = 1/6
		{2, 2, 2}, // monomorphic
	})

	r, err := Open(prefix, Filter{})
	require.NoError(t, err)
	defer r.Close()

	recs := r.Records()
	require.Len(t, recs, 2, "monomorphic SNP should be dropped")
	assert.Equal(t, "rs1", recs[0].ID)
	assert.Equal(t, "rs2", recs[1].ID)
	assert.InDelta(t, 0.5, recs[0].MAF, 1e-12)
	assert.InDelta(t, 1.0/6.0, recs[1].MAF, 1e-12)

	stats := r.Stats()
	assert.Equal(t, 3, stats.SNPsTotal)
	assert.Equal(t, 2, stats.SNPsKept)
	assert.Equal(t, 1, stats.DroppedMAF)
	assert.Equal(t, 3, stats.IndividualsTotal)
	assert.Equal(t, 3, stats.IndividualsKept)
	assert.Equal(t, 3, r.NIndividuals())
}

func TestNextSNPs_StandardizedColumns(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2", "i3"}, [][]float64{
		{0, 1, 2},
	})

	r, err := Open(prefix, Filter{})
	require.NoError(t, err)
	defer r.Close()

	cols, err := r.NextSNPs(10)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	// mean 1, population sd sqrt(2/3)
	sd := math.Sqrt(2.0 / 3.0)
	want := []float64{-1 / sd, 0, 1 / sd}
	for i, w := range want {
		assert.InDelta(t, w, cols[0][i], 1e-12)
	}

	cols, err = r.NextSNPs(10)
	require.NoError(t, err)
	assert.Nil(t, cols, "stream should be exhausted")
}

func TestNextSNPs_MissingImputedToMean(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2", "i3"}, [][]float64{
		{0, math.NaN(), 2},
	})

	r, err := Open(prefix, Filter{})
	require.NoError(t, err)
	defer r.Close()

	// frequency over non-missing genotypes only
	assert.InDelta(t, 0.5, r.Records()[0].MAF, 1e-12)

	cols, err := r.NextSNPs(1)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	// imputed genotype sits exactly at the mean, so it standardizes to 0
	sd := math.Sqrt(2.0 / 3.0)
	want := []float64{-1 / sd, 0, 1 / sd}
	for i, w := range want {
		assert.InDelta(t, w, cols[0][i], 1e-12)
	}
}

func TestNextSNPs_Batching(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(3), []string{"i1", "i2", "i3", "i4"}, [][]float64{
		{0, 1, 2, 0},
		{0, 0, 1, 2},
		{2, 1, 0, 1},
	})

	r, err := Open(prefix, Filter{})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.NextSNPs(2)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	second, err := r.NextSNPs(2)
	require.NoError(t, err)
	assert.Len(t, second, 1)

	third, err := r.NextSNPs(2)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestReader_Reset(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(2), []string{"i1", "i2", "i3"}, [][]float64{
		{0, 1, 2},
		{0, 0, 1},
	})

	r, err := Open(prefix, Filter{})
	require.NoError(t, err)
	defer r.Close()

	before, err := r.NextSNPs(10)
	require.NoError(t, err)
	require.Len(t, before, 2)

	r.Reset()
	after, err := r.NextSNPs(10)
	require.NoError(t, err)
	require.Len(t, after, 2)
	for j := range before {
		assert.Equal(t, before[j], after[j])
	}
}

func TestFilter_Extract(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(3), []string{"i1", "i2", "i3"}, [][]float64{
		{0, 1, 2},
		{0, 0, 1},
		{0, 1, 1},
	})

	r, err := Open(prefix, Filter{Extract: map[string]bool{"rs2": true}})
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Records(), 1)
	assert.Equal(t, "rs2", r.Records()[0].ID)
	assert.Equal(t, 2, r.Stats().DroppedExtract)
}

func TestFilter_Keep(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2", "i3", "i4"}, [][]float64{
		{0, 1, 2, 2},
	})

	r, err := Open(prefix, Filter{Keep: map[string]bool{"i1": true, "i2": true, "i3": true}})
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, 3, r.NIndividuals())
	// frequency computed over the kept individuals only: p = 3/6
	assert.InDelta(t, 0.5, r.Records()[0].MAF, 1e-12)

	cols, err := r.NextSNPs(1)
	require.NoError(t, err)
	require.Len(t, cols, 1)
	assert.Len(t, cols[0], 3)
}

func TestFilter_MAFMinIsStrict(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(2), []string{"i1", "i2", "i3", "i4"}, [][]float64{
		{0, 1, 1, 0}, // maf = 0.25, on the boundary
		{0, 1, 2, 2}, // maf = 0.375
	})

	r, err := Open(prefix, Filter{MAFMin: 0.25})
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Records(), 1)
	assert.Equal(t, "rs2", r.Records()[0].ID)
	assert.Equal(t, 1, r.Stats().DroppedMAF)
}

func TestOpen_NoIndividualsRemain(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1"}, [][]float64{{1}})

	_, err := Open(prefix, Filter{Keep: map[string]bool{"nobody": true}})
	var cfgErr *ldscore.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "keep", cfgErr.Field)
}

func TestOpen_NoSNPsRemain(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2"}, [][]float64{{0, 0}})

	_, err := Open(prefix, Filter{})
	var cfgErr *ldscore.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "bfile", cfgErr.Field)
}

func TestOpen_BadMagic(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2"}, [][]float64{{0, 1}})

	require.NoError(t, os.WriteFile(prefix+".bed", []byte{0xde, 0xad, 0xbe, 0xef}, 0o644))
	_, err := Open(prefix, Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "magic")
}

func TestOpen_IndividualMajorRejected(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2"}, [][]float64{{0, 1}})

	require.NoError(t, os.WriteFile(prefix+".bed", []byte{0x6c, 0x1b, 0x00, 0x02}, 0o644))
	_, err := Open(prefix, Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SNP-major")
}

func TestOpen_TruncatedBed(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(2), []string{"i1", "i2", "i3", "i4", "i5"}, [][]float64{
		{0, 1, 2, 0, 1},
		{0, 0, 1, 1, 2},
	})

	data, err := os.ReadFile(prefix + ".bed")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(prefix+".bed", data[:len(data)-1], 0o644))

	_, err = Open(prefix, Filter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestOpen_UnsortedBIM(t *testing.T) {
	recs := testBIMRecords(2)
	recs[1].BP = 50 // before rs1 on the same chromosome
	prefix := writeFileset(t, recs, []string{"i1", "i2"}, [][]float64{
		{0, 1},
		{1, 2},
	})

	_, err := Open(prefix, Filter{})
	var alignErr *ldscore.AlignmentError
	require.ErrorAs(t, err, &alignErr)
}

func TestOpen_MalformedFAM(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1"}, [][]float64{{1}})
	require.NoError(t, os.WriteFile(prefix+".fam", []byte("fam1 i1 0\n"), 0o644))

	_, err := Open(prefix, Filter{})
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, 1, parseErr.Line)
}

func TestReadIDList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snps.txt")
	require.NoError(t, os.WriteFile(path, []byte("rs1 extra\nrs2\n\nrs3\n"), 0o644))

	ids, err := ReadIDList(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"rs1": true, "rs2": true, "rs3": true}, ids)
}

func TestReadIDList_Gzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snps.txt.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte("rs1\nrs2\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	ids, err := ReadIDList(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"rs1": true, "rs2": true}, ids)
}

func TestParseBIM_MalformedPosition(t *testing.T) {
	prefix := writeFileset(t, testBIMRecords(1), []string{"i1", "i2"}, [][]float64{{0, 1}})
	require.NoError(t, os.WriteFile(prefix+".bim", []byte("1\trs1\t0\toops\tA\tG\n"), 0o644))

	_, err := Open(prefix, Filter{})
	var parseErr *textio.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Message, "position")
}
