package report

import (
	"fmt"
	"math"
	"strings"

	"github.com/inodb/vibe-ldsc/internal/regress"
)

// est formats an estimate with its standard error, NA-ing missing
// values.
func est(v, se float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	if math.IsNaN(se) {
		return fmt.Sprintf("%.4f (NA)", v)
	}
	return fmt.Sprintf("%.4f (%.4f)", v, se)
}

// HsqSummary renders a heritability estimate as the familiar result
// block. A liability factor other than 1 adds the converted estimate;
// pass 1 for quantitative traits.
func HsqSummary(r *regress.HsqResult, liabilityFactor float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Observed scale h2: %s\n", est(r.Tot, r.TotSE))
	if liabilityFactor != 1 {
		fmt.Fprintf(&b, "Total Liability scale h2: %s\n", est(r.Tot*liabilityFactor, r.TotSE*liabilityFactor))
	}
	fmt.Fprintf(&b, "Lambda GC: %.4f\n", r.LambdaGC)
	fmt.Fprintf(&b, "Mean Chi^2: %.4f\n", r.MeanChisq)
	if r.Constrained {
		fmt.Fprintf(&b, "Intercept: constrained to %.4f\n", r.Intercept)
	} else {
		fmt.Fprintf(&b, "Intercept: %s\n", est(r.Intercept, r.InterceptSE))
		switch {
		case r.MeanChisq <= 1:
			b.WriteString("Ratio: NA (mean chi^2 is at most 1)\n")
		case r.Ratio < 0:
			b.WriteString("Ratio < 0 (usually indicates GC correction)\n")
		default:
			fmt.Fprintf(&b, "Ratio: %s\n", est(r.Ratio, r.RatioSE))
		}
	}
	return b.String()
}

// GencovSummary renders a genetic-covariance estimate. The liability
// factor converts the covariance scale; rg itself is scale-invariant.
func GencovSummary(g *regress.GencovResult, liabilityFactor float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total Observed scale gencov: %s\n", est(g.Tot, g.TotSE))
	if liabilityFactor != 1 {
		fmt.Fprintf(&b, "Total Liability scale gencov: %s\n", est(g.Tot*liabilityFactor, g.TotSE*liabilityFactor))
	}
	fmt.Fprintf(&b, "Mean z1*z2: %.4f\n", g.MeanZ1Z2)
	if g.Constrained {
		fmt.Fprintf(&b, "Intercept: constrained to %.4f\n", g.Intercept)
	} else {
		fmt.Fprintf(&b, "Intercept: %s\n", est(g.Intercept, g.InterceptSE))
	}
	return b.String()
}

// RGSummary renders the genetic-correlation block of one trait pair.
func RGSummary(r *regress.RGResult) string {
	var b strings.Builder
	if r.NegativeH2 {
		b.WriteString("Genetic Correlation: NA (heritability estimate is non-positive)\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Genetic Correlation: %s\n", est(r.RG, r.RGSE))
	fmt.Fprintf(&b, "Z-score: %.4f\n", r.ZScore)
	fmt.Fprintf(&b, "P: %.4g\n", r.PValue)
	return b.String()
}
