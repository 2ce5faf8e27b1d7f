package sumstats

import "fmt"

// complementBase maps each nucleotide to its reverse-strand partner.
var complementBase = map[string]string{"A": "T", "T": "A", "C": "G", "G": "C"}

// Complement returns the reverse-strand base, or "" for anything that is
// not a single A/C/G/T.
func Complement(a string) string { return complementBase[a] }

// StrandAmbiguous reports whether an allele pair reads the same on both
// strands (A/T or C/G), which makes strand flips undetectable.
func StrandAmbiguous(a1, a2 string) bool {
	return a1 != "" && a1 == Complement(a2)
}

// ValidPair reports whether two alleles form a usable SNP: both single
// bases, distinct, and not strand-ambiguous.
func ValidPair(a1, a2 string) bool {
	if Complement(a1) == "" || Complement(a2) == "" {
		return false
	}
	return a1 != a2 && !StrandAmbiguous(a1, a2)
}

// MatchAlleles resolves a second study's allele pair (b1, b2) against a
// first study's (a1, a2). match is true when the pairs describe the same
// SNP: identical, strand-flipped, swapped, or swapped and strand-flipped.
// flip is true for the swapped cases, where the second study's Z score
// must change sign to be measured against the same effect allele.
func MatchAlleles(a1, a2, b1, b2 string) (match, flip bool) {
	if !ValidPair(a1, a2) || !ValidPair(b1, b2) {
		return false, false
	}
	switch {
	case b1 == a1 && b2 == a2:
		return true, false
	case b1 == Complement(a1) && b2 == Complement(a2):
		return true, false
	case b1 == a2 && b2 == a1:
		return true, true
	case b1 == Complement(a2) && b2 == Complement(a1):
		return true, true
	}
	return false, false
}

// AlleleMismatchError reports that allele harmonization dropped too large
// a share of the merged SNPs, which usually means the two studies are not
// on the same reference.
type AlleleMismatchError struct {
	Dropped int
	Total   int
}

func (e *AlleleMismatchError) Error() string {
	return fmt.Sprintf("allele mismatch: dropped %d of %d SNPs during harmonization", e.Dropped, e.Total)
}
