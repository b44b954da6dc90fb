package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/plate.report/internal/plate"
	"github.com/banshee-data/plate.report/internal/tracking"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()
	require.NoError(t, cfg.Validate())

	if diff := cmp.Diff(tracking.DefaultTrackerConfig(), cfg.TrackerConfig()); diff != "" {
		t.Errorf("tracker config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, cfg.GetRecognizeEveryNFrames())
}

func TestEmptyTuningConfig_Getters(t *testing.T) {
	cfg := EmptyTuningConfig()

	assert.Equal(t, 0.3, cfg.GetIoUThreshold())
	assert.Equal(t, 2*time.Second, cfg.GetTrackTTL())
	assert.False(t, cfg.GetExclusiveAssociation())
	assert.Equal(t, 5, cfg.GetMinSamples())
	assert.Equal(t, 3, cfg.GetMinVotes())
	assert.Equal(t, 2, cfg.GetMajorityDivisor())
	assert.Equal(t, 1, cfg.GetRecognizeEveryNFrames())

	g, err := cfg.Grammar()
	require.NoError(t, err)
	if diff := cmp.Diff(plate.DefaultGrammar(), g); diff != "" {
		t.Errorf("grammar mismatch (-want +got):\n%s", diff)
	}
}

func TestMustLoadDefaultConfig_MatchesBuiltins(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	if diff := cmp.Diff(tracking.DefaultTrackerConfig(), cfg.TrackerConfig()); diff != "" {
		t.Errorf("tracker config mismatch (-want +got):\n%s", diff)
	}

	g, err := cfg.Grammar()
	require.NoError(t, err)
	if diff := cmp.Diff(plate.DefaultGrammar(), g); diff != "" {
		t.Errorf("defaults file drifted from plate.DefaultGrammar (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	path := writeConfig(t, "tuning.json", `{
  "iou_threshold": 0.45,
  "track_ttl": "3500ms",
  "exclusive_association": true,
  "min_samples": 7,
  "recognize_every_n_frames": 4,
  "region_codes": ["MH", "KA"],
  "digit_to_letter": {"0": "D"}
}`)

	cfg, err := LoadTuningConfig(path)
	require.NoError(t, err)

	tc := cfg.TrackerConfig()
	assert.Equal(t, 0.45, tc.IoUThreshold)
	assert.Equal(t, 3500*time.Millisecond, tc.TrackTTL)
	assert.True(t, tc.ExclusiveAssociation)
	assert.Equal(t, 7, tc.Consensus.MinSamples)
	assert.Equal(t, 3, tc.Consensus.MinVotes, "omitted fields keep defaults")
	assert.Equal(t, 4, cfg.GetRecognizeEveryNFrames())

	g, err := cfg.Grammar()
	require.NoError(t, err)
	assert.Equal(t, []string{"MH", "KA"}, g.RegionCodes)
	assert.Equal(t, map[rune]rune{'0': 'D'}, g.DigitToLetter)
	assert.Equal(t, plate.DefaultGrammar().LetterToDigit, g.LetterToDigit)
}

func TestLoadTuningConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "tuning.yaml", `{}`},
		{"bad json", "tuning.json", `{"iou_threshold": }`},
		{"iou out of range", "tuning.json", `{"iou_threshold": 1.5}`},
		{"bad ttl", "tuning.json", `{"track_ttl": "soon"}`},
		{"negative ttl", "tuning.json", `{"track_ttl": "-1s"}`},
		{"zero min samples", "tuning.json", `{"min_samples": 0}`},
		{"zero min votes", "tuning.json", `{"min_votes": 0}`},
		{"negative divisor", "tuning.json", `{"majority_divisor": -1}`},
		{"zero cadence", "tuning.json", `{"recognize_every_n_frames": 0}`},
		{"bad pattern", "tuning.json", `{"plate_pattern": "([A-Z"}`},
		{"bad region", "tuning.json", `{"region_codes": ["M"]}`},
		{"multi-char table", "tuning.json", `{"letter_to_digit": {"OO": "0"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.body)
			_, err := LoadTuningConfig(path)
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTuningConfig(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
}

func TestGetTrackTTL_FallsBackOnGarbage(t *testing.T) {
	cfg := &TuningConfig{TrackTTL: ptrString("never")}
	assert.Equal(t, tracking.DefaultTrackTTL, cfg.GetTrackTTL())
}
