package regress

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/inodb/vibe-ldsc/internal/ldscore"
)

// syntheticCellTypes builds a base design and a candidate score table
// whose contribution is baked into the base chi-square statistics:
// chisq = 1 + n*(tauC*ldC + tauB*ldB). The candidate table lists its
// SNPs in reverse order, so a correct fit must align rows by
// identifier.
func syntheticCellTypes(nrow int, tauC, tauB, n, mc, mb float64) (*H2Design, *ldscore.Table) {
	ldB := make([]float64, nrow)
	ldC := make([]float64, nrow)
	for i := 0; i < nrow; i++ {
		ldB[i] = 1 + float64(i*37%97)
		ldC[i] = 1 + float64(i*53%89)
	}

	d := &H2Design{
		SNP:   make([]string, nrow),
		Names: []string{"baseL2"},
		X:     mat.NewDense(nrow, 1, nil),
		WLD:   make([]float64, nrow),
		Chisq: make([]float64, nrow),
		N:     make([]float64, nrow),
		M:     []float64{mb},
	}
	for i := 0; i < nrow; i++ {
		d.SNP[i] = fmt.Sprintf("rs%d", i)
		d.X.Set(i, 0, ldB[i])
		d.WLD[i] = ldB[i] + ldC[i]
		d.Chisq[i] = 1 + n*(tauC*ldC[i]+tauB*ldB[i])
		d.N[i] = n
	}

	cand := &ldscore.Table{
		Names:  []string{"NeuronL2"},
		SNP:    make([]string, nrow),
		Chr:    make([]string, nrow),
		BP:     make([]int, nrow),
		Scores: mat.NewDense(nrow, 1, nil),
		M:      []float64{2 * mc},
		M550:   []float64{mc},
	}
	for j := 0; j < nrow; j++ {
		i := nrow - 1 - j
		cand.SNP[j] = fmt.Sprintf("rs%d", i)
		cand.Chr[j] = "1"
		cand.BP[j] = j
		cand.Scores.Set(j, 0, ldC[i])
	}
	return d, cand
}

func TestCellTypes_RecoversJointCoefficients(t *testing.T) {
	tauC, tauB := 2e-6, 8e-7
	mc, mb := 100000.0, 400000.0
	d, cand := syntheticCellTypes(500, tauC, tauB, 10000, mc, mb)

	scan := CellTypes(d, []CellTypeJob{
		{Name: "Neuron", Load: func() (*ldscore.Table, error) { return cand, nil }},
	}, CellTypeOptions{FitOptions: FitOptions{NBlocks: 20}})

	res, err := scan.Next()
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "Neuron", res.Name)
	assert.Equal(t, 1, res.NCts)
	assert.InDelta(t, tauC, res.Coef, 1e-11)
	assert.InDelta(t, tauB, res.Hsq.Coef[1], 1e-11, "base coefficient fits jointly")
	assert.InDelta(t, 0, res.CoefSE, 1e-9, "noiseless data leaves no jackknife variance")
	assert.Less(t, res.PValue, 1e-6, "positive coefficient with tiny SE")
	wantProp := tauC * mc / (tauC*mc + tauB*mb)
	assert.InDelta(t, wantProp/(mc/(mc+mb)), res.Enrichment, 1e-6)
	assert.Equal(t, []string{"NeuronL2", "baseL2"}, res.Hsq.Names)
	assert.Equal(t, []float64{mc, mb}, res.Hsq.M, "candidate normalizes by common-SNP counts")

	end, err := scan.Next()
	require.NoError(t, err)
	assert.Nil(t, end, "scan is exhausted after the last candidate")
}

func TestCellTypes_AllSNPsMCounts(t *testing.T) {
	d, cand := syntheticCellTypes(400, 1e-6, 5e-7, 8000, 50000, 200000)

	scan := CellTypes(d, []CellTypeJob{
		{Name: "Glia", Load: func() (*ldscore.Table, error) { return cand, nil }},
	}, CellTypeOptions{FitOptions: FitOptions{NBlocks: 20}, AllSNPsM: true})

	res, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, 2*50000.0, res.Hsq.M[0], "all-SNPs counts replace the common-SNP counts")
}

func TestCellTypes_LazyLoadInOrder(t *testing.T) {
	d, cand := syntheticCellTypes(300, 1e-6, 5e-7, 8000, 50000, 200000)

	loads := 0
	job := func(name string) CellTypeJob {
		return CellTypeJob{Name: name, Load: func() (*ldscore.Table, error) {
			loads++
			return cand, nil
		}}
	}
	scan := CellTypes(d, []CellTypeJob{job("first"), job("second")},
		CellTypeOptions{FitOptions: FitOptions{NBlocks: 10}})

	assert.Zero(t, loads, "nothing loads before the first Next")
	res, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, "first", res.Name)
	assert.Equal(t, 1, loads)

	res, err = scan.Next()
	require.NoError(t, err)
	assert.Equal(t, "second", res.Name)
	assert.Equal(t, 2, loads)
}

func TestCellTypes_PartialCoverageFails(t *testing.T) {
	d, cand := syntheticCellTypes(200, 1e-6, 5e-7, 8000, 50000, 200000)
	short := &ldscore.Table{
		Names:  cand.Names,
		SNP:    cand.SNP[:150],
		Chr:    cand.Chr[:150],
		BP:     cand.BP[:150],
		Scores: mat.NewDense(150, 1, nil),
		M:      cand.M,
		M550:   cand.M550,
	}
	for i := 0; i < 150; i++ {
		short.Scores.Set(i, 0, cand.Scores.At(i, 0))
	}

	scan := CellTypes(d, []CellTypeJob{
		{Name: "partial", Load: func() (*ldscore.Table, error) { return short, nil }},
	}, CellTypeOptions{FitOptions: FitOptions{NBlocks: 10}})

	_, err := scan.Next()
	var alignment *ldscore.AlignmentError
	require.ErrorAs(t, err, &alignment)
	assert.ErrorContains(t, err, "partial")
}

func TestCellTypes_MultiColumnCandidate(t *testing.T) {
	nrow := 400
	d, cand := syntheticCellTypes(nrow, 2e-6, 8e-7, 10000, 100000, 400000)

	// second candidate column with no true signal
	wide := &ldscore.Table{
		Names:  []string{"NeuronL2", "ShuffledL2"},
		SNP:    cand.SNP,
		Chr:    cand.Chr,
		BP:     cand.BP,
		Scores: mat.NewDense(nrow, 2, nil),
		M:      []float64{cand.M[0], 30000},
		M550:   []float64{cand.M550[0], 15000},
	}
	for i := 0; i < nrow; i++ {
		wide.Scores.Set(i, 0, cand.Scores.At(i, 0))
		wide.Scores.Set(i, 1, 1+float64(i*29%83))
	}

	scan := CellTypes(d, []CellTypeJob{
		{Name: "Neuron", Load: func() (*ldscore.Table, error) { return wide, nil }},
	}, CellTypeOptions{FitOptions: FitOptions{NBlocks: 20}})

	res, err := scan.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, res.NCts)
	assert.InDelta(t, 2e-6, res.Coef, 1e-11)
	assert.InDelta(t, 0, res.Hsq.Coef[1], 1e-11, "signal-free column fits to zero")
	assert.InDelta(t, 8e-7, res.Hsq.Coef[2], 1e-11)
}

func TestCoefficientP(t *testing.T) {
	assert.InDelta(t, 0.05, CoefficientP(1.6449, 1), 1e-4)
	assert.InDelta(t, 0.5, CoefficientP(0, 1), 1e-12)
	assert.Greater(t, CoefficientP(-1, 1), 0.8, "negative coefficients are not significant one-sided")
}
