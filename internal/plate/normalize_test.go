package plate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T, mutate func(*Grammar)) *Normalizer {
	t.Helper()
	g := DefaultGrammar()
	if mutate != nil {
		mutate(&g)
	}
	n, err := NewNormalizer(g)
	require.NoError(t, err)
	return n
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	for _, s := range []string{
		"MH12AB1234",
		"KA1A1234",
		"DL1IND1234", // series happens to spell a noise token
		"ZZ99ZZZ9999",
		"OB12AB1234", // valid shape, unknown region: not forced to OD
	} {
		got, valid := n.Normalize(s)
		assert.Equal(t, s, got, "input %q", s)
		assert.True(t, valid, "input %q", s)

		again, valid := n.Normalize(got)
		assert.Equal(t, got, again)
		assert.True(t, valid)
	}
}

func TestNormalize_EmptyAndNoise(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"whitespace", "  \t\n"},
		{"punctuation only", "-.:/"},
		{"noise only", "IND"},
		{"non-ascii noise only", "भारत"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, valid := n.Normalize(tt.raw)
			assert.Equal(t, "", got)
			assert.False(t, valid)
		})
	}
}

func TestNormalize_FoldAndNoise(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"lower case with spaces", "mh 12 ab 1234", "MH12AB1234"},
		{"hyphens", "MH-12-AB-1234", "MH12AB1234"},
		{"trailing country marker", "KA01AB1234 IND", "KA01AB1234"},
		{"leading long marker", "INDIA KA 01 AB 1234", "KA01AB1234"},
		{"devanagari marker", "भारत MH12AB1234", "MH12AB1234"},
		{"marker split by punctuation", "I.N.D MH12AB1234", "MH12AB1234"},
		{"extra trailing digit", "MH12AB12345", "MH12AB1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, valid := n.Normalize(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.True(t, valid)
		})
	}
}

func TestNormalize_CandidatePrecedence(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	// Surrounding junk is dropped by the candidate search.
	got, valid := n.Normalize("XXMH12ABC1234YY")
	assert.Equal(t, "MH12ABC1234", got)
	assert.True(t, valid)

	// No-series plate found by the last pattern.
	got, valid = n.Normalize("##DL011234##")
	assert.Equal(t, "DL011234", got)
	assert.False(t, valid, "series-less plates fail the full grammar")
}

func TestNormalize_RegionCorrection(t *testing.T) {
	t.Parallel()

	t.Run("distance one substitutes closest code", func(t *testing.T) {
		n := newTestNormalizer(t, func(g *Grammar) { g.RegionCodes = []string{"KB", "MH"} })
		got, valid := n.Normalize("0B12AB1234")
		assert.Equal(t, "KB12AB1234", got)
		assert.True(t, valid)
	})

	t.Run("digit remap alone yields valid code", func(t *testing.T) {
		n := newTestNormalizer(t, nil)
		got, valid := n.Normalize("0D12AB1234")
		assert.Equal(t, "OD12AB1234", got)
		assert.True(t, valid)
	})

	t.Run("tie picks first configured code", func(t *testing.T) {
		n := newTestNormalizer(t, nil)
		// OB is one away from both OD and OR.
		got, _ := n.Normalize("0B12AB1234")
		assert.Equal(t, "OD12AB1234", got)
	})

	t.Run("distance two is left alone", func(t *testing.T) {
		n := newTestNormalizer(t, func(g *Grammar) { g.RegionCodes = []string{"MH"} })
		got, valid := n.Normalize("0B12AB1234")
		// Only the letter-zone look-alike fix applies, never a forced MH.
		assert.Equal(t, "OB12AB1234", got)
		assert.True(t, valid)
	})
}

func TestNormalize_SegmentClasses(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	// Number zone misreads O->0, I->1, S->5, B->8.
	got, valid := n.Normalize("MH12AB OISB")
	assert.Equal(t, "MH12AB0158", got)
	assert.True(t, valid)

	// Short strings are not coerced.
	got, valid = n.Normalize("MH-0S")
	assert.Equal(t, "MH0S", got)
	assert.False(t, valid)
}

func TestNormalize_SeriesUntouched(t *testing.T) {
	t.Parallel()
	n := newTestNormalizer(t, nil)

	// No candidate pattern matches, so the full cleaned text is kept and
	// the series keeps its look-alike characters.
	got, valid := n.Normalize("mh1z8b1234")
	assert.Equal(t, "MH1Z8B1234", got)
	assert.False(t, valid)
}

func TestNewNormalizer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Grammar)
	}{
		{"bad plate pattern", func(g *Grammar) { g.PlatePattern = "([A-Z" }},
		{"bad candidate", func(g *Grammar) { g.CandidatePatterns = []string{"[0-9"} }},
		{"long region code", func(g *Grammar) { g.RegionCodes = []string{"MHX"} }},
		{"numeric region code", func(g *Grammar) { g.RegionCodes = []string{"M1"} }},
		{"bad digit table", func(g *Grammar) { g.DigitToLetter = map[rune]rune{'A': 'B'} }},
		{"bad letter table", func(g *Grammar) { g.LetterToDigit = map[rune]rune{'O': 'Q'} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DefaultGrammar()
			tt.mutate(&g)
			_, err := NewNormalizer(g)
			assert.Error(t, err)
		})
	}
}

func TestDefaultGrammar_Copies(t *testing.T) {
	t.Parallel()
	g := DefaultGrammar()
	g.RegionCodes[0] = "ZZ"
	g.DigitToLetter['0'] = 'Q'

	fresh := DefaultGrammar()
	assert.Equal(t, "AN", fresh.RegionCodes[0])
	assert.Equal(t, 'O', fresh.DigitToLetter['0'])
}
