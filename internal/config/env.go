package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-data/plate.report/internal/monitoring"
)

// Environment variables read by LoadEnv.
const (
	EnvDBPath          = "PLATE_DB_PATH"
	EnvTuning          = "PLATE_TUNING"
	EnvDetectorAddr    = "PLATE_DETECTOR_ADDR"
	EnvDetectorTimeout = "PLATE_DETECTOR_TIMEOUT"
	EnvListen          = "PLATE_LISTEN"
	EnvSource          = "PLATE_SOURCE"
	EnvRecognizeEvery  = "PLATE_RECOGNIZE_EVERY"
)

// Env holds deployment settings that come from the process environment
// or a .env file. Command-line flags override them.
type Env struct {
	DBPath          string
	TuningPath      string
	DetectorAddr    string
	DetectorTimeout time.Duration
	Listen          string
	Source          string
	// RecognizeEvery overrides the tuning file cadence when positive.
	RecognizeEvery int
}

// LoadEnv reads the given .env files (".env" when none are named) into
// the process environment without overriding variables that are already
// set, then collects the PLATE_* settings. Missing files are ignored.
func LoadEnv(files ...string) (Env, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				monitoring.Logf("no %s file found, using process environment", f)
				continue
			}
			return Env{}, err
		}
	}

	return Env{
		DBPath:          getEnv(EnvDBPath, "plates.db"),
		TuningPath:      getEnv(EnvTuning, ""),
		DetectorAddr:    getEnv(EnvDetectorAddr, ""),
		DetectorTimeout: getEnvDuration(EnvDetectorTimeout, 5*time.Second),
		Listen:          getEnv(EnvListen, ""),
		Source:          getEnv(EnvSource, "camera-0"),
		RecognizeEvery:  getEnvInt(EnvRecognizeEvery, 0),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		monitoring.Logf("ignoring %s=%q: not an integer", key, v)
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		monitoring.Logf("ignoring %s=%q: not a duration", key, v)
	}
	return defaultVal
}
