package ldscore

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// sliceSource serves pre-standardized columns, honoring the requested
// chunk size.
type sliceSource struct {
	cols [][]float64
	n    int
	pos  int
}

func (s *sliceSource) NIndividuals() int { return s.n }

func (s *sliceSource) NextSNPs(max int) ([][]float64, error) {
	if s.pos >= len(s.cols) {
		return nil, nil
	}
	end := s.pos + max
	if end > len(s.cols) {
		end = len(s.cols)
	}
	batch := s.cols[s.pos:end]
	s.pos = end
	return batch, nil
}

// standardize centers each dosage column and divides by its population
// standard deviation, mirroring what the genotype reader feeds the
// calculator.
func standardize(dosages [][]float64) [][]float64 {
	out := make([][]float64, len(dosages))
	for j, col := range dosages {
		n := float64(len(col))
		mean := 0.0
		for _, v := range col {
			mean += v
		}
		mean /= n
		ss := 0.0
		for _, v := range col {
			ss += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(ss / n)
		if sd == 0 {
			sd = 1
		}
		std := make([]float64, len(col))
		for i, v := range col {
			std[i] = (v - mean) / sd
		}
		out[j] = std
	}
	return out
}

func testRecords(m int) []SNPRecord {
	recs := make([]SNPRecord, m)
	for i := range recs {
		recs[i] = SNPRecord{ID: "rs" + string(rune('a'+i)), Chr: "1", BP: 1000 * (i + 1), MAF: 0.25}
	}
	return recs
}

func randomDosages(rng *rand.Rand, m, n int) [][]float64 {
	cols := make([][]float64, m)
	for j := range cols {
		col := make([]float64, n)
		for i := range col {
			col[i] = float64(rng.Intn(3))
		}
		// Avoid monomorphic columns; the reader never emits them.
		col[0], col[1] = 0, 2
		cols[j] = col
	}
	return cols
}

func computeScores(t *testing.T, cols [][]float64, recs []SNPRecord, windows []Window, ann *Annotation, opts Options) *Table {
	t.Helper()
	src := &sliceSource{cols: standardize(cols), n: len(cols[0])}
	calc := NewCalculator(opts)
	table, err := calc.Compute(src, recs, windows, ann)
	require.NoError(t, err)
	return table
}

func TestCompute_SelfOnlyWindowScoresOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	cols := randomDosages(rng, 5, 20)
	recs := testRecords(5)
	windows, err := Windows(WindowSpec{SNPs: 1}.Coords(recs), 0)
	require.NoError(t, err)

	table := computeScores(t, cols, recs, windows, nil, Options{})

	require.Equal(t, []string{"L2"}, table.Names)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, 1.0, table.Scores.At(i, 0), 1e-12, "self-only window score for SNP %d", i)
	}
	assert.Equal(t, []float64{5}, table.M)
}

func TestCompute_KnownPairwiseValues(t *testing.T) {
	// Four individuals, three SNPs. SNPs 0 and 1 are identical (r = 1),
	// SNP 2 is orthogonal to both (r = 0).
	cols := [][]float64{
		{0, 0, 2, 2},
		{0, 0, 2, 2},
		{0, 2, 0, 2},
	}
	recs := testRecords(3)
	windows := []Window{{0, 3}, {0, 3}, {0, 3}}

	table := computeScores(t, cols, recs, windows, nil, Options{})

	// n = 4: r² = 1 stays 1, r² = 0 corrects to -(1-0)/(4-2) = -0.5.
	assert.InDelta(t, 1.0+1.0-0.5, table.Scores.At(0, 0), 1e-12)
	assert.InDelta(t, 1.0+1.0-0.5, table.Scores.At(1, 0), 1e-12)
	assert.InDelta(t, 1.0-0.5-0.5, table.Scores.At(2, 0), 1e-12)
}

func TestCompute_ChunkSizeDoesNotChangeResults(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const m, n = 40, 30
	cols := randomDosages(rng, m, n)
	recs := testRecords(m)
	coords := make([]float64, m)
	for i := range coords {
		coords[i] = float64(i)
	}
	windows, err := Windows(coords, 7)
	require.NoError(t, err)

	ref := computeScores(t, cols, recs, windows, nil, Options{ChunkSize: m})
	for _, chunk := range []int{1, 3, 7, 13} {
		got := computeScores(t, cols, recs, windows, nil, Options{ChunkSize: chunk})
		for i := 0; i < m; i++ {
			assert.InDelta(t, ref.Scores.At(i, 0), got.Scores.At(i, 0), 1e-12,
				"chunk size %d changed the score of SNP %d", chunk, i)
		}
	}
}

func TestCompute_AllOnesAnnotationMatchesUnpartitioned(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const m, n = 25, 16
	cols := randomDosages(rng, m, n)
	recs := testRecords(m)
	coords := make([]float64, m)
	for i := range coords {
		coords[i] = float64(i)
	}
	windows, err := Windows(coords, 4)
	require.NoError(t, err)

	plain := computeScores(t, cols, recs, windows, nil, Options{})

	ones := mat.NewDense(m, 1, nil)
	for i := 0; i < m; i++ {
		ones.Set(i, 0, 1)
	}
	ann := &Annotation{Names: []string{"base"}, Weights: ones}
	part := computeScores(t, cols, recs, windows, ann, Options{})

	require.Equal(t, []string{"baseL2"}, part.Names)
	for i := 0; i < m; i++ {
		assert.InDelta(t, plain.Scores.At(i, 0), part.Scores.At(i, 0), 1e-12, "SNP %d", i)
	}
	assert.InDelta(t, plain.M[0], part.M[0], 1e-12)
}

func TestCompute_PartitionedColumnsSumToUnpartitioned(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	const m, n = 20, 12
	cols := randomDosages(rng, m, n)
	recs := testRecords(m)
	coords := make([]float64, m)
	for i := range coords {
		coords[i] = float64(i)
	}
	windows, err := Windows(coords, 5)
	require.NoError(t, err)

	plain := computeScores(t, cols, recs, windows, nil, Options{})

	// Two disjoint categories covering every SNP.
	weights := mat.NewDense(m, 2, nil)
	for i := 0; i < m; i++ {
		weights.Set(i, i%2, 1)
	}
	ann := &Annotation{Names: []string{"even", "odd"}, Weights: weights}
	part := computeScores(t, cols, recs, windows, ann, Options{})

	for i := 0; i < m; i++ {
		sum := part.Scores.At(i, 0) + part.Scores.At(i, 1)
		assert.InDelta(t, plain.Scores.At(i, 0), sum, 1e-12, "category scores at SNP %d", i)
	}
	assert.InDelta(t, float64(m), part.M[0]+part.M[1], 1e-12)
}

func TestCompute_FrequencyWeighting(t *testing.T) {
	cols := [][]float64{
		{0, 0, 2, 2},
		{0, 2, 0, 2},
	}
	recs := testRecords(2)
	recs[0].MAF = 0.1
	recs[1].MAF = 0.4
	windows := []Window{{0, 1}, {1, 2}} // self only

	exp := 1.0
	table := computeScores(t, cols, recs, windows, nil, Options{FreqExp: &exp})

	// Self term weighted by the SNP's own p(1-p).
	assert.InDelta(t, 0.1*0.9, table.Scores.At(0, 0), 1e-12)
	assert.InDelta(t, 0.4*0.6, table.Scores.At(1, 0), 1e-12)
	assert.InDelta(t, 0.1*0.9+0.4*0.6, table.M[0], 1e-12)
}

func TestCompute_M550UsesStrictBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	cols := randomDosages(rng, 4, 10)
	recs := testRecords(4)
	recs[0].MAF = 0.01
	recs[1].MAF = 0.05 // boundary, excluded
	recs[2].MAF = 0.25
	recs[3].MAF = 0.50 // boundary, excluded
	windows := []Window{{0, 1}, {1, 2}, {2, 3}, {3, 4}}

	table := computeScores(t, cols, recs, windows, nil, Options{})

	assert.Equal(t, []float64{4}, table.M)
	assert.Equal(t, []float64{1}, table.M550)
}

func TestCompute_SourceShorterThanRecords(t *testing.T) {
	cols := standardize([][]float64{{0, 0, 2, 2}})
	src := &sliceSource{cols: cols, n: 4}
	calc := NewCalculator(Options{})

	_, err := calc.Compute(src, testRecords(2), []Window{{0, 1}, {1, 2}}, nil)

	var alignErr *AlignmentError
	require.Error(t, err)
	assert.True(t, errors.As(err, &alignErr), "want AlignmentError, got %T", err)
}

func TestCompute_AnnotationRowMismatch(t *testing.T) {
	cols := standardize([][]float64{{0, 0, 2, 2}, {0, 2, 0, 2}})
	src := &sliceSource{cols: cols, n: 4}
	calc := NewCalculator(Options{})
	ann := &Annotation{Names: []string{"c"}, Weights: mat.NewDense(3, 1, nil)}

	_, err := calc.Compute(src, testRecords(2), []Window{{0, 1}, {1, 2}}, ann)

	var alignErr *AlignmentError
	require.Error(t, err)
	assert.True(t, errors.As(err, &alignErr), "want AlignmentError, got %T", err)
}

func TestConcat_SumsCountsAndStacksRows(t *testing.T) {
	t1 := &Table{
		Names:  []string{"L2"},
		SNP:    []string{"rs1", "rs2"},
		Chr:    []string{"1", "1"},
		BP:     []int{100, 200},
		Scores: mat.NewDense(2, 1, []float64{1.5, 2.5}),
		M:      []float64{2},
		M550:   []float64{1},
	}
	t2 := &Table{
		Names:  []string{"L2"},
		SNP:    []string{"rs3"},
		Chr:    []string{"2"},
		BP:     []int{50},
		Scores: mat.NewDense(1, 1, []float64{3.5}),
		M:      []float64{1},
		M550:   []float64{1},
	}

	out, err := Concat([]*Table{t1, t2})
	require.NoError(t, err)

	assert.Equal(t, []string{"rs1", "rs2", "rs3"}, out.SNP)
	assert.Equal(t, []string{"1", "1", "2"}, out.Chr)
	assert.Equal(t, []float64{3}, out.M)
	assert.Equal(t, []float64{2}, out.M550)
	assert.Equal(t, 3.5, out.Scores.At(2, 0))
}

func TestConcat_NameMismatch(t *testing.T) {
	t1 := &Table{
		Names:  []string{"L2"},
		SNP:    []string{"rs1"},
		Chr:    []string{"1"},
		BP:     []int{100},
		Scores: mat.NewDense(1, 1, []float64{1}),
		M:      []float64{1},
		M550:   []float64{1},
	}
	t2 := &Table{
		Names:  []string{"otherL2"},
		SNP:    []string{"rs2"},
		Chr:    []string{"1"},
		BP:     []int{200},
		Scores: mat.NewDense(1, 1, []float64{1}),
		M:      []float64{1},
		M550:   []float64{1},
	}

	_, err := Concat([]*Table{t1, t2})

	var alignErr *AlignmentError
	require.Error(t, err)
	assert.True(t, errors.As(err, &alignErr), "want AlignmentError, got %T", err)
}
