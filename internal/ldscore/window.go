// Package ldscore computes LD Scores: per-SNP sums of squared genotype
// correlations over sliding genomic windows, optionally partitioned by
// annotation category.
package ldscore

import "fmt"

// SNPRecord describes one variant of the genotype panel.
type SNPRecord struct {
	ID  string
	Chr string
	BP  int
	CM  float64
	A1  string
	A2  string
	MAF float64
}

// Window is a half-open index interval [Lo, Hi) over the SNP sequence,
// covering every SNP within the configured distance of the center SNP.
type Window struct {
	Lo, Hi int
}

// WindowSpec selects the window unit and size. Exactly one unit must be
// set: a SNP count, a physical distance in kb, or a genetic distance in
// centimorgans.
type WindowSpec struct {
	SNPs int
	Kb   float64
	CM   float64
}

// Validate checks that exactly one window unit is active and the size is
// not negative.
func (s WindowSpec) Validate() error {
	active := 0
	if s.SNPs != 0 {
		active++
		if s.SNPs < 0 {
			return &ConfigError{Field: "ld-wind-snps", Message: "window size must not be negative"}
		}
	}
	if s.Kb != 0 {
		active++
		if s.Kb < 0 {
			return &ConfigError{Field: "ld-wind-kb", Message: "window size must not be negative"}
		}
	}
	if s.CM != 0 {
		active++
		if s.CM < 0 {
			return &ConfigError{Field: "ld-wind-cm", Message: "window size must not be negative"}
		}
	}
	if active != 1 {
		return &ConfigError{
			Field:   "ld-wind",
			Message: fmt.Sprintf("exactly one window unit must be set, found %d", active),
		}
	}
	return nil
}

// Coords returns the position of each SNP on the scale of the active
// window unit: the SNP index for count windows, base pairs for kb
// windows, centimorgans for genetic-distance windows.
func (s WindowSpec) Coords(recs []SNPRecord) []float64 {
	coords := make([]float64, len(recs))
	switch {
	case s.SNPs != 0:
		for i := range recs {
			coords[i] = float64(i)
		}
	case s.Kb != 0:
		for i, r := range recs {
			coords[i] = float64(r.BP)
		}
	default:
		for i, r := range recs {
			coords[i] = r.CM
		}
	}
	return coords
}

// MaxDist returns the window half-width on the same scale as Coords.
func (s WindowSpec) MaxDist() float64 {
	switch {
	case s.SNPs != 0:
		return float64(s.SNPs)
	case s.Kb != 0:
		return s.Kb * 1000
	default:
		return s.CM
	}
}

// Windows computes one [Lo, Hi) interval per SNP covering all SNPs j with
// |coords[j] − coords[i]| ≤ maxDist. Coordinates must be sorted in
// non-decreasing order; ties are included in both directions and windows
// at the boundaries are truncated. The sweep is a two-pointer pass, so a
// full pairwise scan is never performed.
func Windows(coords []float64, maxDist float64) ([]Window, error) {
	if maxDist < 0 {
		return nil, &ConfigError{Field: "window", Message: "window size must not be negative"}
	}
	for i := 1; i < len(coords); i++ {
		if coords[i] < coords[i-1] {
			return nil, &AlignmentError{
				Message: fmt.Sprintf("positions not sorted: coords[%d]=%g < coords[%d]=%g", i, coords[i], i-1, coords[i-1]),
			}
		}
	}

	windows := make([]Window, len(coords))
	lo, hi := 0, 0
	for i := range coords {
		for coords[i]-coords[lo] > maxDist {
			lo++
		}
		if hi < i+1 {
			hi = i + 1
		}
		for hi < len(coords) && coords[hi]-coords[i] <= maxDist {
			hi++
		}
		windows[i] = Window{Lo: lo, Hi: hi}
	}
	return windows, nil
}

// SpansAll reports whether a window of half-width maxDist would cover the
// entire coordinate range, i.e. every SNP would see every other SNP.
// Callers use this to refuse accidental whole-chromosome windows.
func SpansAll(coords []float64, maxDist float64) bool {
	if len(coords) == 0 {
		return false
	}
	return maxDist >= coords[len(coords)-1]-coords[0]
}
