package plate

// Grammar holds every tunable of the plate text normalizer. The zero value
// is not usable; start from DefaultGrammar and override fields as needed.
type Grammar struct {
	// PlatePattern is the full-match grammar a cleaned plate must satisfy.
	PlatePattern string

	// CandidatePatterns are searched in order, first match wins. Later
	// patterns are subsets of earlier ones, so order matters.
	CandidatePatterns []string

	// RegionCodes is the ordered set of valid two-letter region prefixes.
	// On a Hamming-distance tie the earlier code wins.
	RegionCodes []string

	// NoiseTokens are removed wherever they appear as substrings before
	// candidate extraction. Tokens may contain non-ASCII characters.
	NoiseTokens []string

	// DigitToLetter maps digits to their look-alike letters (region zone).
	DigitToLetter map[rune]rune

	// LetterToDigit maps letters to their look-alike digits (number zone).
	LetterToDigit map[rune]rune
}

// Default grammar values.
const (
	DefaultPlatePattern = `^[A-Z]{2}[0-9]{1,2}[A-Z]{1,3}[0-9]{4}$`
	regionLen           = 2
	numberLen           = 4
	minCorrectableLen   = 6
)

// DefaultCandidatePatterns lists the plate shapes searched for in a cleaned
// string, most specific first.
var DefaultCandidatePatterns = []string{
	`[A-Z]{2}[0-9]{1,2}[A-Z]{1,3}[0-9]{4}`,
	`[A-Z]{2}[0-9]{1,2}[A-Z][0-9]{4}`,
	`[A-Z]{2}[0-9]{1,2}[0-9]{4}`,
}

// DefaultRegionCodes are the Indian state and union territory codes plus
// the BH (Bharat) series.
var DefaultRegionCodes = []string{
	"AN", "AP", "AR", "AS", "BH", "BR", "CG", "CH", "DD", "DL",
	"DN", "GA", "GJ", "HP", "HR", "JH", "JK", "KA", "KL", "LA",
	"LD", "MH", "ML", "MN", "MP", "MZ", "NL", "OD", "OR", "PB",
	"PY", "RJ", "SK", "TG", "TN", "TR", "TS", "UK", "UP", "WB",
}

// DefaultNoiseTokens are country markers and watermarks printed on
// high-security registration plates.
var DefaultNoiseTokens = []string{
	"भारत",
	"INDIA",
	"IND",
	"GOVT",
	"GOVERNMENT",
	"BHARAT",
}

// DefaultGrammar returns the grammar for Indian registration plates.
// Slices and maps are fresh copies so callers may modify them.
func DefaultGrammar() Grammar {
	return Grammar{
		PlatePattern:      DefaultPlatePattern,
		CandidatePatterns: append([]string(nil), DefaultCandidatePatterns...),
		RegionCodes:       append([]string(nil), DefaultRegionCodes...),
		NoiseTokens:       append([]string(nil), DefaultNoiseTokens...),
		DigitToLetter: map[rune]rune{
			'0': 'O', '1': 'I', '2': 'Z', '3': 'B', '4': 'A',
			'5': 'S', '6': 'G', '7': 'T', '8': 'B', '9': 'G',
		},
		LetterToDigit: map[rune]rune{
			'O': '0', 'I': '1', 'Z': '2', 'S': '5', 'B': '8', 'G': '6',
		},
	}
}
