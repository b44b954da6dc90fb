package tracking

import (
	"sort"
	"sync"
	"time"
)

// Default tracker configuration values.
const (
	DefaultIoUThreshold = 0.3
	DefaultTrackTTL     = 2 * time.Second
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	IoUThreshold float64       // IoU must exceed this to associate
	TrackTTL     time.Duration // idle time after which a track expires
	Consensus    ConsensusPolicy

	// ExclusiveAssociation assigns each track to at most one detection per
	// frame, greedily by descending IoU. When false every detection picks
	// its best track independently and two detections may share one.
	ExclusiveAssociation bool
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		IoUThreshold: DefaultIoUThreshold,
		TrackTTL:     DefaultTrackTTL,
		Consensus:    DefaultConsensusPolicy(),
	}
}

// Tracker owns the track table for a single video source. Update is
// expected to be driven by one goroutine; the read methods may be called
// concurrently from others.
type Tracker struct {
	tracks map[uint64]*Track
	nextID uint64
	config TrackerConfig

	mu sync.RWMutex
}

// NewTracker creates a new tracker with the specified configuration.
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		tracks: make(map[uint64]*Track),
		nextID: 1,
		config: config,
	}
}

// Config returns the tracker configuration.
func (t *Tracker) Config() TrackerConfig {
	return t.config
}

// candidate is a surviving track as it stood before the current frame.
type candidate struct {
	id  uint64
	box Box
}

// Update processes one frame of detections and returns the plates
// confirmed on this frame, in detection order.
//
// Every detection box must have positive area; callers filter degenerate
// boxes before calling. dets is not modified.
func (t *Tracker) Update(dets []Detection, timestamp time.Time) []ConfirmedPlate {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowNanos := timestamp.UnixNano()

	// Step 1: Expire idle tracks before association
	t.expire(nowNanos)

	// Step 2: Associate against the pre-frame snapshot
	snapshot := t.candidates()
	var assoc []uint64
	if t.config.ExclusiveAssociation {
		assoc = t.associateExclusive(dets, snapshot)
	} else {
		assoc = t.associate(dets, snapshot)
	}

	// Step 3: Update matched tracks, create the rest
	var confirmed []ConfirmedPlate
	for i, det := range dets {
		id := assoc[i]
		if id == 0 {
			t.initTrack(det, nowNanos)
			continue
		}

		track := t.tracks[id]
		track.Box = det.Box
		track.LastUnixNanos = nowNanos
		track.Frames++
		track.observe(det.CleanedText, det.Confidence, nowNanos)

		if c, ok := Confirm(track.History, t.config.Consensus); ok {
			confirmed = append(confirmed, ConfirmedPlate{
				TrackID:    id,
				Plate:      c.Text,
				Box:        track.Box,
				Votes:      c.Votes,
				Samples:    c.Samples,
				Confidence: c.Confidence,
			})
		}
	}

	return confirmed
}

// expire removes tracks idle for longer than the TTL.
func (t *Tracker) expire(nowNanos int64) {
	ttl := int64(t.config.TrackTTL)
	for id, track := range t.tracks {
		if nowNanos-track.LastUnixNanos > ttl {
			delete(t.tracks, id)
		}
	}
}

// candidates lists surviving tracks in id order so ties resolve to the
// oldest track.
func (t *Tracker) candidates() []candidate {
	out := make([]candidate, 0, len(t.tracks))
	for id, track := range t.tracks {
		out = append(out, candidate{id: id, box: track.Box})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// associate picks, for each detection independently, the snapshot track
// with the highest IoU. Returns the matched track id per detection, or 0.
func (t *Tracker) associate(dets []Detection, snapshot []candidate) []uint64 {
	assoc := make([]uint64, len(dets))
	for i, det := range dets {
		var bestID uint64
		bestIoU := 0.0
		for _, c := range snapshot {
			if iou := IoU(det.Box, c.box); iou > bestIoU {
				bestIoU = iou
				bestID = c.id
			}
		}
		if bestIoU > t.config.IoUThreshold {
			assoc[i] = bestID
		}
	}
	return assoc
}

// associateExclusive assigns detection/track pairs greedily by descending
// IoU so that each track takes at most one detection.
func (t *Tracker) associateExclusive(dets []Detection, snapshot []candidate) []uint64 {
	type pair struct {
		det int
		id  uint64
		iou float64
	}

	var pairs []pair
	for i, det := range dets {
		for _, c := range snapshot {
			if iou := IoU(det.Box, c.box); iou > t.config.IoUThreshold {
				pairs = append(pairs, pair{det: i, id: c.id, iou: iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		if pairs[i].det != pairs[j].det {
			return pairs[i].det < pairs[j].det
		}
		return pairs[i].id < pairs[j].id
	})

	assoc := make([]uint64, len(dets))
	trackUsed := make(map[uint64]bool)
	for _, p := range pairs {
		if assoc[p.det] != 0 || trackUsed[p.id] {
			continue
		}
		assoc[p.det] = p.id
		trackUsed[p.id] = true
	}
	return assoc
}

// initTrack creates a new track from an unassociated detection.
func (t *Tracker) initTrack(det Detection, nowNanos int64) *Track {
	id := t.nextID
	t.nextID++

	track := &Track{
		ID:             id,
		Box:            det.Box,
		FirstUnixNanos: nowNanos,
		LastUnixNanos:  nowNanos,
		Frames:         1,
	}
	track.observe(det.CleanedText, det.Confidence, nowNanos)

	t.tracks[id] = track
	return track
}

// Snapshot returns deep copies of all live tracks ordered by id.
func (t *Tracker) Snapshot() []Track {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		out = append(out, track.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetTrack returns a copy of a track by id.
func (t *Tracker) GetTrack(id uint64) (Track, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	track, ok := t.tracks[id]
	if !ok {
		return Track{}, false
	}
	return track.clone(), true
}

// Has reports whether a track is still live.
func (t *Tracker) Has(id uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tracks[id]
	return ok
}

// TrackCount returns the number of live tracks.
func (t *Tracker) TrackCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracks)
}

// Reset drops every track. Ids are not reused afterwards.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[uint64]*Track)
}
