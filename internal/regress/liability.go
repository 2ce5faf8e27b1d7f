package regress

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// LiabilityFactor converts observed-scale heritability of a binary
// trait in an ascertained sample to the liability scale in the
// population: multiply the observed estimate and its standard error by
// the returned factor. sampPrev is the case fraction in the sample,
// popPrev the disease prevalence in the population. NaN for either
// prevalence means no conversion (factor 1); values outside (0, 1) are
// an InvalidPrevalenceError.
func LiabilityFactor(sampPrev, popPrev float64) (float64, error) {
	if math.IsNaN(sampPrev) || math.IsNaN(popPrev) {
		return 1, nil
	}
	if popPrev <= 0 || popPrev >= 1 {
		return 0, &InvalidPrevalenceError{Name: "population prevalence", Value: popPrev}
	}
	if sampPrev <= 0 || sampPrev >= 1 {
		return 0, &InvalidPrevalenceError{Name: "sample prevalence", Value: sampPrev}
	}
	thresh := distuv.UnitNormal.Quantile(1 - popPrev)
	phi := distuv.UnitNormal.Prob(thresh)
	k := popPrev
	p := sampPrev
	return k * k * (1 - k) * (1 - k) / (p * (1 - p) * phi * phi), nil
}

// GencovLiabilityFactor converts observed-scale genetic covariance to
// the liability scale: the geometric mean of the two traits'
// heritability factors. Genetic correlation needs no conversion.
func GencovLiabilityFactor(sampPrev1, popPrev1, sampPrev2, popPrev2 float64) (float64, error) {
	f1, err := LiabilityFactor(sampPrev1, popPrev1)
	if err != nil {
		return 0, err
	}
	f2, err := LiabilityFactor(sampPrev2, popPrev2)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(f1) * math.Sqrt(f2), nil
}
