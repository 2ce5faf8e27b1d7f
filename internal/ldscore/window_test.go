package ldscore

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowSpec_Validate(t *testing.T) {
	tests := []struct {
		name    string
		spec    WindowSpec
		wantErr bool
	}{
		{"snp count only", WindowSpec{SNPs: 10}, false},
		{"kb only", WindowSpec{Kb: 1000}, false},
		{"cm only", WindowSpec{CM: 1}, false},
		{"no unit", WindowSpec{}, true},
		{"two units", WindowSpec{SNPs: 10, Kb: 1000}, true},
		{"all units", WindowSpec{SNPs: 10, Kb: 1000, CM: 1}, true},
		{"negative snps", WindowSpec{SNPs: -1}, true},
		{"negative kb", WindowSpec{Kb: -0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr {
				var cfgErr *ConfigError
				require.Error(t, err)
				assert.True(t, errors.As(err, &cfgErr), "want ConfigError, got %T", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWindowSpec_Coords(t *testing.T) {
	recs := []SNPRecord{
		{ID: "rs1", BP: 100, CM: 0.1},
		{ID: "rs2", BP: 250, CM: 0.4},
		{ID: "rs3", BP: 900, CM: 1.2},
	}

	assert.Equal(t, []float64{0, 1, 2}, WindowSpec{SNPs: 1}.Coords(recs))
	assert.Equal(t, []float64{100, 250, 900}, WindowSpec{Kb: 1}.Coords(recs))
	assert.Equal(t, []float64{0.1, 0.4, 1.2}, WindowSpec{CM: 1}.Coords(recs))
	assert.Equal(t, 1000.0, WindowSpec{Kb: 1}.MaxDist())
	assert.Equal(t, 1.0, WindowSpec{SNPs: 1}.MaxDist())
	assert.Equal(t, 0.5, WindowSpec{CM: 0.5}.MaxDist())
}

func TestWindows_SNPCountOfOne(t *testing.T) {
	// Six SNPs with a one-SNP window: each window spans itself plus one
	// neighbor on each side, clipped at the ends.
	coords := []float64{0, 1, 2, 3, 4, 5}

	windows, err := Windows(coords, 1)
	require.NoError(t, err)
	require.Len(t, windows, 6)

	assert.Equal(t, Window{Lo: 0, Hi: 2}, windows[0])
	assert.Equal(t, Window{Lo: 4, Hi: 6}, windows[5])
	for i := 1; i < 5; i++ {
		assert.Equal(t, Window{Lo: i - 1, Hi: i + 2}, windows[i], "interior window %d", i)
	}
}

func TestWindows_PhysicalDistance(t *testing.T) {
	bp := []float64{100, 1100, 5000}

	windows, err := Windows(bp, 1000)
	require.NoError(t, err)

	assert.Equal(t, Window{Lo: 0, Hi: 2}, windows[0], "1100-100 = 1000 is inside the window")
	assert.Equal(t, Window{Lo: 0, Hi: 2}, windows[1])
	assert.Equal(t, Window{Lo: 2, Hi: 3}, windows[2], "5000 is isolated")
}

func TestWindows_TiesIncludedBothDirections(t *testing.T) {
	coords := []float64{7, 7, 7}

	windows, err := Windows(coords, 0)
	require.NoError(t, err)

	for i, w := range windows {
		assert.Equal(t, Window{Lo: 0, Hi: 3}, w, "window %d", i)
	}
}

func TestWindows_ZeroSize(t *testing.T) {
	coords := []float64{1, 2, 3}

	windows, err := Windows(coords, 0)
	require.NoError(t, err)

	for i, w := range windows {
		assert.Equal(t, Window{Lo: i, Hi: i + 1}, w, "window %d should be the SNP itself", i)
	}
}

func TestWindows_Unsorted(t *testing.T) {
	_, err := Windows([]float64{1, 3, 2}, 1)

	var alignErr *AlignmentError
	require.Error(t, err)
	assert.True(t, errors.As(err, &alignErr), "want AlignmentError, got %T", err)
}

func TestWindows_MonotoneAndSelfInclusive(t *testing.T) {
	// Property: for any sorted coordinates, window ends never decrease
	// and every SNP lies inside its own window.
	rng := rand.New(rand.NewSource(1))
	coords := make([]float64, 500)
	pos := 0.0
	for i := range coords {
		pos += rng.Float64() * 10
		coords[i] = pos
	}

	for _, dist := range []float64{0, 5, 50, 1e6} {
		windows, err := Windows(coords, dist)
		require.NoError(t, err)
		for i, w := range windows {
			assert.LessOrEqual(t, w.Lo, i, "dist %g: window %d excludes itself on the left", dist, i)
			assert.Greater(t, w.Hi, i, "dist %g: window %d excludes itself on the right", dist, i)
			if i > 0 {
				assert.GreaterOrEqual(t, w.Lo, windows[i-1].Lo, "dist %g: Lo decreased at %d", dist, i)
				assert.GreaterOrEqual(t, w.Hi, windows[i-1].Hi, "dist %g: Hi decreased at %d", dist, i)
			}
		}
	}
}

func TestSpansAll(t *testing.T) {
	coords := []float64{0, 10, 100}

	assert.True(t, SpansAll(coords, 100))
	assert.True(t, SpansAll(coords, 1e9))
	assert.False(t, SpansAll(coords, 99))
	assert.False(t, SpansAll(nil, 1e9))
}
