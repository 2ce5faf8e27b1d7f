package sumstats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComplement(t *testing.T) {
	assert.Equal(t, "T", Complement("A"))
	assert.Equal(t, "A", Complement("T"))
	assert.Equal(t, "G", Complement("C"))
	assert.Equal(t, "C", Complement("G"))
	assert.Equal(t, "", Complement("N"))
	assert.Equal(t, "", Complement("AT"))
}

func TestStrandAmbiguous(t *testing.T) {
	assert.True(t, StrandAmbiguous("A", "T"))
	assert.True(t, StrandAmbiguous("T", "A"))
	assert.True(t, StrandAmbiguous("C", "G"))
	assert.True(t, StrandAmbiguous("G", "C"))
	assert.False(t, StrandAmbiguous("A", "G"))
	assert.False(t, StrandAmbiguous("A", "C"))
	assert.False(t, StrandAmbiguous("X", "Y"))
}

func TestValidPair(t *testing.T) {
	cases := []struct {
		a1, a2 string
		want   bool
	}{
		{"A", "G", true},
		{"A", "C", true},
		{"T", "G", true},
		{"T", "C", true},
		{"G", "A", true},
		{"A", "T", false}, // strand-ambiguous
		{"C", "G", false}, // strand-ambiguous
		{"A", "A", false}, // not a polymorphism
		{"A", "N", false},
		{"I", "D", false}, // indel codes
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ValidPair(c.a1, c.a2), "%s/%s", c.a1, c.a2)
	}
}

func TestMatchAlleles(t *testing.T) {
	cases := []struct {
		name           string
		a1, a2, b1, b2 string
		match, flip    bool
	}{
		{"identity", "A", "G", "A", "G", true, false},
		{"strand flip", "A", "G", "T", "C", true, false},
		{"swap", "A", "G", "G", "A", true, true},
		{"swap and strand flip", "A", "G", "C", "T", true, true},
		{"different SNP", "A", "G", "A", "C", false, false},
		{"ambiguous first pair", "A", "T", "A", "T", false, false},
		{"ambiguous second pair", "A", "G", "C", "G", false, false},
		{"invalid base", "A", "G", "A", "N", false, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			match, flip := MatchAlleles(c.a1, c.a2, c.b1, c.b2)
			assert.Equal(t, c.match, match, "match")
			assert.Equal(t, c.flip, flip, "flip")
		})
	}
}

func TestAlleleMismatchError(t *testing.T) {
	err := &AlleleMismatchError{Dropped: 60, Total: 100}
	assert.Contains(t, err.Error(), "60")
	assert.Contains(t, err.Error(), "100")
}
