package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/plate"
	"github.com/banshee-data/plate.report/internal/timeutil"
	"github.com/banshee-data/plate.report/internal/tracking"
)

// ErrNoDetector is returned by ProcessFrame on a session built without a
// Detector.
var ErrNoDetector = errors.New("pipeline: session has no detector")

// SessionConfig configures a Session. Zero values take the package
// defaults.
type SessionConfig struct {
	// Source names the video source in logs and in the detection log.
	Source  string
	Tracker tracking.TrackerConfig
	Grammar plate.Grammar

	// RecognizeEvery runs the Recognizer on every Nth frame only. Frames
	// in between still feed located boxes to the tracker with empty text.
	RecognizeEvery int

	Detector   Detector
	Recognizer Recognizer
	Recorder   Recorder
	AllowList  AllowList

	// Clock stamps frames that arrive without a timestamp.
	Clock timeutil.Clock
}

// announcement caches what was reported the first time a track
// confirmed a plate.
type announcement struct {
	plate   string
	allowed bool
	vehicle *db.AllowedVehicle
}

// Session processes the frames of one video source.
type Session struct {
	id     string
	source string

	tracker    *tracking.Tracker
	normalizer *plate.Normalizer

	detector   Detector
	recognizer Recognizer
	recorder   Recorder
	allow      AllowList
	clock      timeutil.Clock

	logf func(format string, v ...interface{})

	mu             sync.Mutex
	recognizeEvery int
	frameCount     int64
	announced      map[uint64]announcement
	stats          Stats
}

// Stats counts what a session has processed.
type Stats struct {
	Frames     int64 `json:"frames"`
	Detections int64 `json:"detections"`
	Dropped    int64 `json:"dropped"`
	Recognized int64 `json:"recognized"`
	Confirmed  int64 `json:"confirmed"`
	Recorded   int64 `json:"recorded"`
}

// NewSession builds a session with a fresh tracker and normalizer.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Grammar.PlatePattern == "" {
		cfg.Grammar = plate.DefaultGrammar()
	}
	normalizer, err := plate.NewNormalizer(cfg.Grammar)
	if err != nil {
		return nil, fmt.Errorf("build normalizer: %w", err)
	}

	defaults := tracking.DefaultTrackerConfig()
	if cfg.Tracker.IoUThreshold == 0 {
		cfg.Tracker.IoUThreshold = defaults.IoUThreshold
	}
	if cfg.Tracker.TrackTTL == 0 {
		cfg.Tracker.TrackTTL = defaults.TrackTTL
	}
	if cfg.Tracker.Consensus == (tracking.ConsensusPolicy{}) {
		cfg.Tracker.Consensus = defaults.Consensus
	}
	if cfg.RecognizeEvery < 1 {
		cfg.RecognizeEvery = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Source == "" {
		cfg.Source = "default"
	}

	return &Session{
		id:             uuid.NewString(),
		source:         cfg.Source,
		tracker:        tracking.NewTracker(cfg.Tracker),
		normalizer:     normalizer,
		detector:       cfg.Detector,
		recognizer:     cfg.Recognizer,
		recorder:       cfg.Recorder,
		allow:          cfg.AllowList,
		clock:          cfg.Clock,
		logf:           monitoring.Component("pipeline " + cfg.Source),
		recognizeEvery: cfg.RecognizeEvery,
		announced:      make(map[uint64]announcement),
	}, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Source returns the source name.
func (s *Session) Source() string { return s.source }

// Tracker exposes the session's tracker for read-only snapshots.
func (s *Session) Tracker() *tracking.Tracker { return s.tracker }

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ProcessFrame runs detection and, on cadence frames, recognition on one
// frame and feeds the result to Observe. A detector failure fails the
// frame; a recognizer failure only blanks the text of that box.
func (s *Session) ProcessFrame(ctx context.Context, frame Frame) ([]Event, error) {
	if s.detector == nil {
		return nil, ErrNoDetector
	}

	candidates, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect frame %d: %w", frame.Seq, err)
	}

	recognize := s.recognizer != nil && s.nextFrameRecognizes()

	raw := make([]RawDetection, 0, len(candidates))
	for _, c := range candidates {
		if !c.Box.Valid() {
			// Observe drops these too; skip the recognizer call.
			raw = append(raw, RawDetection{Box: c.Box, Confidence: c.Confidence})
			continue
		}
		var text string
		if recognize {
			text, err = s.recognizer.Recognize(ctx, frame, c.Box)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logf("recognize frame %d box %s: %v", frame.Seq, c.Box, err)
				text = ""
			}
		}
		raw = append(raw, RawDetection{Box: c.Box, RawText: text, Confidence: c.Confidence})
	}

	return s.observe(ctx, frame.Seq, frame.Timestamp, raw), nil
}

// Observe feeds already recognized detections for one frame to the
// tracker and returns the confirmations. It is the entry point for
// replayed detections; ProcessFrame calls it after running the models.
// Observe never fails: persistence and allow-list errors are logged and
// the confirmation is still returned.
func (s *Session) Observe(ctx context.Context, seq int64, ts time.Time, raw []RawDetection) []Event {
	s.mu.Lock()
	s.frameCount++
	s.mu.Unlock()
	return s.observe(ctx, seq, ts, raw)
}

// nextFrameRecognizes advances the frame counter and reports whether the
// recognizer runs on this frame.
func (s *Session) nextFrameRecognizes() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCount++
	return s.frameCount%int64(s.recognizeEvery) == 0
}

func (s *Session) observe(ctx context.Context, seq int64, ts time.Time, raw []RawDetection) []Event {
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	dets := make([]tracking.Detection, 0, len(raw))
	var dropped, recognized int64
	for _, r := range raw {
		if !r.Box.Valid() {
			s.logf("frame %d: dropping degenerate box %s", seq, r.Box)
			dropped++
			continue
		}
		cleaned, valid := s.normalizer.Normalize(r.RawText)
		if r.RawText != "" {
			recognized++
		}
		dets = append(dets, tracking.Detection{
			Box:         r.Box,
			RawText:     r.RawText,
			CleanedText: cleaned,
			Confidence:  r.Confidence,
			Valid:       valid,
		})
	}

	confirmed := s.tracker.Update(dets, ts)

	s.mu.Lock()
	s.stats.Frames++
	s.stats.Detections += int64(len(dets))
	s.stats.Dropped += dropped
	s.stats.Recognized += recognized
	s.stats.Confirmed += int64(len(confirmed))
	s.mu.Unlock()

	s.pruneAnnouncements()

	if len(confirmed) == 0 {
		return nil
	}

	events := make([]Event, 0, len(confirmed))
	for _, cp := range confirmed {
		events = append(events, s.announce(ctx, seq, ts, cp))
	}
	return events
}

// announce enriches one confirmation. Persistence and allow-list lookups
// run once per (track, plate) pair; repeats reuse the cached answer.
func (s *Session) announce(ctx context.Context, seq int64, ts time.Time, cp tracking.ConfirmedPlate) Event {
	ev := Event{
		ConfirmedPlate: cp,
		SessionID:      s.id,
		Source:         s.source,
		Seq:            seq,
		Timestamp:      ts,
	}

	s.mu.Lock()
	prev, seen := s.announced[cp.TrackID]
	s.mu.Unlock()
	if seen && prev.plate == cp.Plate {
		ev.Allowed = prev.allowed
		ev.Vehicle = prev.vehicle
		return ev
	}

	ev.First = true
	if s.recorder != nil {
		inserted, err := s.recorder.InsertDetectionIfAbsent(ctx, &db.PlateDetection{
			Plate:             cp.Plate,
			TrackID:           cp.TrackID,
			Source:            s.source,
			SessionID:         s.id,
			Confidence:        cp.Confidence,
			DetectedUnixNanos: ts.UnixNano(),
		})
		if err != nil {
			s.logf("record plate %s (track %d): %v", cp.Plate, cp.TrackID, err)
		}
		ev.Recorded = inserted
	}
	if s.allow != nil {
		v, ok, err := s.allow.LookupAllowed(ctx, cp.Plate)
		if err != nil {
			s.logf("allow-list lookup %s: %v", cp.Plate, err)
		}
		ev.Allowed = ok
		ev.Vehicle = v
	}

	s.mu.Lock()
	s.announced[cp.TrackID] = announcement{plate: cp.Plate, allowed: ev.Allowed, vehicle: ev.Vehicle}
	if ev.Recorded {
		s.stats.Recorded++
	}
	s.mu.Unlock()

	if ev.Recorded {
		s.logf("confirmed %s on track %d (%d/%d votes, allowed=%v)",
			cp.Plate, cp.TrackID, cp.Votes, cp.Samples, ev.Allowed)
	}
	return ev
}

// pruneAnnouncements forgets tracks the tracker has expired.
func (s *Session) pruneAnnouncements() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.announced {
		if !s.tracker.Has(id) {
			delete(s.announced, id)
		}
	}
}

// Reset drops all tracks and per-session state. Track ids keep
// increasing across a reset.
func (s *Session) Reset() {
	s.tracker.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frameCount = 0
	s.announced = make(map[uint64]announcement)
}
