package ldscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func threeSNPTable() *Table {
	return &Table{
		Names:  []string{"baseL2", "conservedL2"},
		SNP:    []string{"rs1", "rs2", "rs3"},
		Chr:    []string{"1", "1", "2"},
		BP:     []int{100, 200, 50},
		Scores: mat.NewDense(3, 2, []float64{1, 10, 2, 20, 3, 30}),
		M:      []float64{3, 2},
		M550:   []float64{2, 1},
	}
}

func TestKeepSNPs_PreservesOrderAndCounts(t *testing.T) {
	got := threeSNPTable().KeepSNPs(map[string]bool{"rs3": true, "rs1": true})

	assert.Equal(t, []string{"rs1", "rs3"}, got.SNP, "row order follows the table, not the id set")
	assert.Equal(t, []string{"1", "2"}, got.Chr)
	assert.Equal(t, []int{100, 50}, got.BP)
	assert.InDelta(t, 1.0, got.Scores.At(0, 0), 1e-12)
	assert.InDelta(t, 30.0, got.Scores.At(1, 1), 1e-12)
	assert.Equal(t, []float64{3, 2}, got.M, "M describes the full panel, not the kept rows")
	assert.Equal(t, []float64{2, 1}, got.M550)
}

func TestKeepSNPs_NoMatches(t *testing.T) {
	got := threeSNPTable().KeepSNPs(map[string]bool{"rsX": true})

	assert.Equal(t, 0, got.NSNPs())
	assert.Equal(t, []float64{3, 2}, got.M)
}

func TestKeepSNPs_CopyLeavesOriginalIntact(t *testing.T) {
	orig := threeSNPTable()
	got := orig.KeepSNPs(map[string]bool{"rs2": true})
	got.Scores.Set(0, 0, -1)
	got.SNP[0] = "changed"

	require.Equal(t, 3, orig.NSNPs())
	assert.Equal(t, "rs2", orig.SNP[1])
	assert.InDelta(t, 2.0, orig.Scores.At(1, 0), 1e-12)
}

func TestValidate_ShapeMismatch(t *testing.T) {
	tab := threeSNPTable()
	tab.M = []float64{3}

	err := tab.Validate()
	var alignErr *AlignmentError
	require.ErrorAs(t, err, &alignErr)
}
