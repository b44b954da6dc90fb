package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/banshee-data/plate.report/internal/plate"
	"github.com/banshee-data/plate.report/internal/tracking"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Every field is optional; Get* methods fall back to built-in defaults
// so partial files are safe.
type TuningConfig struct {
	// Tracker params
	IoUThreshold         *float64 `json:"iou_threshold,omitempty"`
	TrackTTL             *string  `json:"track_ttl,omitempty"` // duration string like "2s"
	ExclusiveAssociation *bool    `json:"exclusive_association,omitempty"`

	// Confirmation params
	MinSamples      *int `json:"min_samples,omitempty"`
	MinVotes        *int `json:"min_votes,omitempty"`
	MajorityDivisor *int `json:"majority_divisor,omitempty"`

	// Pipeline params
	RecognizeEveryNFrames *int `json:"recognize_every_n_frames,omitempty"`

	// Plate grammar. Look-alike tables map single characters, e.g. {"0": "O"}.
	PlatePattern      *string           `json:"plate_pattern,omitempty"`
	CandidatePatterns []string          `json:"candidate_patterns,omitempty"`
	RegionCodes       []string          `json:"region_codes,omitempty"`
	NoiseTokens       []string          `json:"noise_tokens,omitempty"`
	DigitToLetter     map[string]string `json:"digit_to_letter,omitempty"`
	LetterToDigit     map[string]string `json:"letter_to_digit,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every scalar field set
// to its built-in default. Grammar fields stay nil and resolve to
// plate.DefaultGrammar.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		IoUThreshold:          ptrFloat64(tracking.DefaultIoUThreshold),
		TrackTTL:              ptrString(tracking.DefaultTrackTTL.String()),
		ExclusiveAssociation:  ptrBool(false),
		MinSamples:            ptrInt(5),
		MinVotes:              ptrInt(3),
		MajorityDivisor:       ptrInt(2),
		RecognizeEveryNFrames: ptrInt(1),
		PlatePattern:          ptrString(plate.DefaultPlatePattern),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.IoUThreshold != nil {
		if *c.IoUThreshold < 0 || *c.IoUThreshold >= 1 {
			return fmt.Errorf("iou_threshold must be in [0, 1), got %f", *c.IoUThreshold)
		}
	}

	if c.TrackTTL != nil && *c.TrackTTL != "" {
		d, err := time.ParseDuration(*c.TrackTTL)
		if err != nil {
			return fmt.Errorf("invalid track_ttl '%s': %w", *c.TrackTTL, err)
		}
		if d <= 0 {
			return fmt.Errorf("track_ttl must be positive, got %s", d)
		}
	}

	if c.MinSamples != nil && *c.MinSamples < 1 {
		return fmt.Errorf("min_samples must be at least 1, got %d", *c.MinSamples)
	}
	if c.MinVotes != nil && *c.MinVotes < 1 {
		return fmt.Errorf("min_votes must be at least 1, got %d", *c.MinVotes)
	}
	if c.MajorityDivisor != nil && *c.MajorityDivisor < 0 {
		return fmt.Errorf("majority_divisor must be non-negative, got %d", *c.MajorityDivisor)
	}
	if c.RecognizeEveryNFrames != nil && *c.RecognizeEveryNFrames < 1 {
		return fmt.Errorf("recognize_every_n_frames must be at least 1, got %d", *c.RecognizeEveryNFrames)
	}

	g, err := c.Grammar()
	if err != nil {
		return err
	}
	if _, err := plate.NewNormalizer(g); err != nil {
		return fmt.Errorf("invalid plate grammar: %w", err)
	}

	return nil
}

// GetIoUThreshold returns the iou_threshold value or the default.
func (c *TuningConfig) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return tracking.DefaultIoUThreshold
	}
	return *c.IoUThreshold
}

// GetTrackTTL parses and returns the TrackTTL as a time.Duration.
func (c *TuningConfig) GetTrackTTL() time.Duration {
	if c.TrackTTL == nil || *c.TrackTTL == "" {
		return tracking.DefaultTrackTTL
	}
	d, err := time.ParseDuration(*c.TrackTTL)
	if err != nil || d <= 0 {
		return tracking.DefaultTrackTTL // default on parse error
	}
	return d
}

// GetExclusiveAssociation returns the exclusive_association value or the default.
func (c *TuningConfig) GetExclusiveAssociation() bool {
	if c.ExclusiveAssociation == nil {
		return false
	}
	return *c.ExclusiveAssociation
}

// GetMinSamples returns the min_samples value or the default.
func (c *TuningConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return 5
	}
	return *c.MinSamples
}

// GetMinVotes returns the min_votes value or the default.
func (c *TuningConfig) GetMinVotes() int {
	if c.MinVotes == nil {
		return 3
	}
	return *c.MinVotes
}

// GetMajorityDivisor returns the majority_divisor value or the default.
func (c *TuningConfig) GetMajorityDivisor() int {
	if c.MajorityDivisor == nil {
		return 2
	}
	return *c.MajorityDivisor
}

// GetRecognizeEveryNFrames returns the recognize_every_n_frames value or the default.
func (c *TuningConfig) GetRecognizeEveryNFrames() int {
	if c.RecognizeEveryNFrames == nil {
		return 1
	}
	return *c.RecognizeEveryNFrames
}

// TrackerConfig builds the tracker configuration from the tuning values.
func (c *TuningConfig) TrackerConfig() tracking.TrackerConfig {
	return tracking.TrackerConfig{
		IoUThreshold: c.GetIoUThreshold(),
		TrackTTL:     c.GetTrackTTL(),
		Consensus: tracking.ConsensusPolicy{
			MinSamples:      c.GetMinSamples(),
			MinVotes:        c.GetMinVotes(),
			MajorityDivisor: c.GetMajorityDivisor(),
		},
		ExclusiveAssociation: c.GetExclusiveAssociation(),
	}
}

// Grammar overlays the configured grammar fields on plate.DefaultGrammar.
func (c *TuningConfig) Grammar() (plate.Grammar, error) {
	g := plate.DefaultGrammar()
	if c.PlatePattern != nil && *c.PlatePattern != "" {
		g.PlatePattern = *c.PlatePattern
	}
	if len(c.CandidatePatterns) > 0 {
		g.CandidatePatterns = append([]string(nil), c.CandidatePatterns...)
	}
	if len(c.RegionCodes) > 0 {
		g.RegionCodes = append([]string(nil), c.RegionCodes...)
	}
	if c.NoiseTokens != nil {
		g.NoiseTokens = append([]string(nil), c.NoiseTokens...)
	}

	var err error
	if len(c.DigitToLetter) > 0 {
		if g.DigitToLetter, err = runeTable("digit_to_letter", c.DigitToLetter); err != nil {
			return plate.Grammar{}, err
		}
	}
	if len(c.LetterToDigit) > 0 {
		if g.LetterToDigit, err = runeTable("letter_to_digit", c.LetterToDigit); err != nil {
			return plate.Grammar{}, err
		}
	}
	return g, nil
}

func runeTable(name string, m map[string]string) (map[rune]rune, error) {
	out := make(map[rune]rune, len(m))
	for k, v := range m {
		if utf8.RuneCountInString(k) != 1 || utf8.RuneCountInString(v) != 1 {
			return nil, fmt.Errorf("%s entries must map one character to one character, got %q->%q", name, k, v)
		}
		from, _ := utf8.DecodeRuneInString(k)
		to, _ := utf8.DecodeRuneInString(v)
		out[from] = to
	}
	return out, nil
}
