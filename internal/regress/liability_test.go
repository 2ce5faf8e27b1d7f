package regress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiabilityFactor_NoConversionWithoutPrevalences(t *testing.T) {
	for _, tc := range [][2]float64{
		{math.NaN(), math.NaN()},
		{0.5, math.NaN()},
		{math.NaN(), 0.01},
	} {
		f, err := LiabilityFactor(tc[0], tc[1])
		require.NoError(t, err)
		assert.Equal(t, 1.0, f)
	}
}

func TestLiabilityFactor_BalancedCaseControl(t *testing.T) {
	// K = 0.01, P = 0.5: threshold 2.3263, density 0.026652,
	// 0.01^2 * 0.99^2 / (0.25 * 0.026652^2)
	f, err := LiabilityFactor(0.5, 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 0.5519, f, 1e-3)
}

func TestLiabilityFactor_EqualPrevalences(t *testing.T) {
	// With P = K the ascertainment correction vanishes and only the
	// threshold-model factor remains, which exceeds 1 for rare traits.
	f, err := LiabilityFactor(0.1, 0.1)
	require.NoError(t, err)
	assert.Greater(t, f, 1.0)
}

func TestLiabilityFactor_RejectsOutOfRange(t *testing.T) {
	var invalid *InvalidPrevalenceError
	for _, tc := range [][2]float64{
		{0.5, 0},
		{0.5, 1},
		{0.5, 1.2},
		{0, 0.01},
		{1, 0.01},
		{-0.1, 0.01},
	} {
		_, err := LiabilityFactor(tc[0], tc[1])
		require.ErrorAs(t, err, &invalid, "samp=%g pop=%g", tc[0], tc[1])
	}
}

func TestGencovLiabilityFactor(t *testing.T) {
	f1, err := LiabilityFactor(0.5, 0.01)
	require.NoError(t, err)
	f2, err := LiabilityFactor(0.4, 0.05)
	require.NoError(t, err)

	g, err := GencovLiabilityFactor(0.5, 0.01, 0.4, 0.05)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(f1)*math.Sqrt(f2), g, 1e-12)

	// one binary and one quantitative trait
	g, err = GencovLiabilityFactor(0.5, 0.01, math.NaN(), math.NaN())
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(f1), g, 1e-12)

	// both quantitative
	g, err = GencovLiabilityFactor(math.NaN(), math.NaN(), math.NaN(), math.NaN())
	require.NoError(t, err)
	assert.Equal(t, 1.0, g)
}

func TestGencovLiabilityFactor_PropagatesErrors(t *testing.T) {
	var invalid *InvalidPrevalenceError
	_, err := GencovLiabilityFactor(0.5, 0.01, 0.5, 2)
	require.ErrorAs(t, err, &invalid)
}
