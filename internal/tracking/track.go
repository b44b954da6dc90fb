package tracking

// Detection is one plate observation in one frame, after text
// normalization. Box must satisfy Box.Valid.
type Detection struct {
	Box         Box
	RawText     string
	CleanedText string
	Confidence  float64
	Valid       bool // CleanedText satisfies the plate grammar
}

// Observation is a single non-empty text reading recorded on a track.
type Observation struct {
	Text       string
	Confidence float64
	Timestamp  int64 // Unix nanos
}

// Track is a persistent identity linking detections of the same physical
// plate across frames. History is append-only.
type Track struct {
	ID  uint64
	Box Box

	FirstUnixNanos int64
	LastUnixNanos  int64

	// Frames counts every matched detection, including those without text.
	Frames  int
	History []Observation
}

// ConfirmedPlate is emitted for a track whose history meets the
// confirmation policy on the current frame.
type ConfirmedPlate struct {
	TrackID uint64
	Plate   string
	Box     Box

	Votes      int     // readings agreeing with Plate
	Samples    int     // non-empty readings on the track
	Confidence float64 // mean confidence of the agreeing readings
}

func (tr *Track) observe(text string, confidence float64, nowNanos int64) {
	if text == "" {
		return
	}
	tr.History = append(tr.History, Observation{
		Text:       text,
		Confidence: confidence,
		Timestamp:  nowNanos,
	})
}

// clone returns a deep copy safe to hand to readers outside the lock.
func (tr *Track) clone() Track {
	c := *tr
	c.History = append([]Observation(nil), tr.History...)
	return c
}
