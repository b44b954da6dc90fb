package plate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Normalizer turns raw recognizer output into a canonical plate candidate.
// It is immutable after construction and safe for concurrent use.
type Normalizer struct {
	plate      *regexp.Regexp
	candidates []*regexp.Regexp

	regionCodes []string
	regionSet   map[string]struct{}

	// rawTokens are upper-cased tokens matched against unfolded text;
	// foldedTokens are their ASCII-folded forms, longest first.
	rawTokens    []string
	foldedTokens []string

	toLetter [256]byte
	toDigit  [256]byte
}

// NewNormalizer compiles a grammar. It fails on invalid patterns, region
// codes that are not two letters, or look-alike entries outside [A-Z0-9].
func NewNormalizer(g Grammar) (*Normalizer, error) {
	n := &Normalizer{regionSet: make(map[string]struct{}, len(g.RegionCodes))}

	var err error
	if n.plate, err = regexp.Compile(g.PlatePattern); err != nil {
		return nil, fmt.Errorf("compile plate pattern: %w", err)
	}
	for i, p := range g.CandidatePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile candidate pattern %d: %w", i, err)
		}
		n.candidates = append(n.candidates, re)
	}

	for _, code := range g.RegionCodes {
		code = strings.ToUpper(code)
		if len(code) != regionLen || !isLetter(code[0]) || !isLetter(code[1]) {
			return nil, fmt.Errorf("invalid region code %q", code)
		}
		if _, dup := n.regionSet[code]; dup {
			continue
		}
		n.regionSet[code] = struct{}{}
		n.regionCodes = append(n.regionCodes, code)
	}

	for _, tok := range g.NoiseTokens {
		up := strings.ToUpper(tok)
		if up == "" {
			continue
		}
		n.rawTokens = append(n.rawTokens, up)
		if f := fold(up); f != "" {
			n.foldedTokens = append(n.foldedTokens, f)
		}
	}
	// Longer tokens first so "IND" never eats the prefix of "INDIA".
	sort.SliceStable(n.rawTokens, func(i, j int) bool { return len(n.rawTokens[i]) > len(n.rawTokens[j]) })
	sort.SliceStable(n.foldedTokens, func(i, j int) bool { return len(n.foldedTokens[i]) > len(n.foldedTokens[j]) })

	for from, to := range g.DigitToLetter {
		if !isDigit(byte(from)) || from > '9' || !isLetter(byte(to)) || to > 'Z' {
			return nil, fmt.Errorf("invalid digit-to-letter mapping %q->%q", from, to)
		}
		n.toLetter[from] = byte(to)
	}
	for from, to := range g.LetterToDigit {
		if !isLetter(byte(from)) || from > 'Z' || !isDigit(byte(to)) || to > '9' {
			return nil, fmt.Errorf("invalid letter-to-digit mapping %q->%q", from, to)
		}
		n.toDigit[from] = byte(to)
	}

	return n, nil
}

// MustNewNormalizer is NewNormalizer for grammars known to be valid.
func MustNewNormalizer(g Grammar) *Normalizer {
	n, err := NewNormalizer(g)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize cleans raw recognizer text and reports whether the result
// satisfies the plate grammar. Empty or all-noise input yields ("", false).
func (n *Normalizer) Normalize(raw string) (string, bool) {
	folded := fold(raw)
	if folded == "" {
		return "", false
	}
	// Already canonical: return untouched so Normalize is idempotent.
	if n.plate.MatchString(folded) {
		return folded, true
	}

	cleaned := n.stripNoise(raw)
	if cleaned == "" {
		return "", false
	}

	s := []byte(n.extractCandidate(cleaned))
	n.correctRegion(s)
	n.enforceClasses(s)

	out := string(s)
	return out, n.plate.MatchString(out)
}

// Valid reports whether s fully matches the plate grammar.
func (n *Normalizer) Valid(s string) bool {
	return n.plate.MatchString(s)
}

// stripNoise removes noise tokens from the upper-cased unfolded text,
// folds it, then removes any tokens that only appear once folded.
func (n *Normalizer) stripNoise(raw string) string {
	up := strings.ToUpper(raw)
	for _, tok := range n.rawTokens {
		up = strings.ReplaceAll(up, tok, "")
	}
	s := fold(up)
	for _, tok := range n.foldedTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return s
}

func (n *Normalizer) extractCandidate(s string) string {
	for _, re := range n.candidates {
		if m := re.FindString(s); m != "" {
			return m
		}
	}
	return s
}

func (n *Normalizer) correctRegion(s []byte) {
	if len(s) < regionLen {
		return
	}
	var pair [regionLen]byte
	for i := range pair {
		pair[i] = s[i]
		if l := n.toLetter[s[i]]; l != 0 {
			pair[i] = l
		}
	}
	code := string(pair[:])
	if _, ok := n.regionSet[code]; ok {
		copy(s, code)
		return
	}

	best, bestDist := "", regionLen+1
	for _, rc := range n.regionCodes {
		if d := hamming(code, rc); d < bestDist {
			best, bestDist = rc, d
		}
	}
	if bestDist == 1 {
		copy(s, best)
	}
}

// enforceClasses coerces the region zone toward letters and the trailing
// number zone toward digits. The series segment is left alone.
func (n *Normalizer) enforceClasses(s []byte) {
	if len(s) < minCorrectableLen {
		return
	}
	for i := 0; i < regionLen; i++ {
		if l := n.toLetter[s[i]]; l != 0 {
			s[i] = l
		}
	}
	for i := len(s) - numberLen; i < len(s); i++ {
		if d := n.toDigit[s[i]]; d != 0 {
			s[i] = d
		}
	}
}

// fold upper-cases s and drops everything outside [A-Z0-9].
func fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if r < 0x80 && (isLetter(byte(r)) || isDigit(byte(r))) {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

func hamming(a, b string) int {
	d := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			d++
		}
	}
	return d
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
