package pipeline

import (
	"context"
	"time"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/tracking"
)

// Frame is one image from a video source. Data is opaque to the pipeline
// and is handed to the Detector and Recognizer unchanged.
type Frame struct {
	Seq       int64
	Timestamp time.Time
	Data      []byte
}

// Candidate is a plate region proposed by a Detector.
type Candidate struct {
	Box        tracking.Box
	Confidence float64
}

// RawDetection is a located plate with its unnormalized recognizer text.
// RawText may be empty when recognition was skipped or failed.
type RawDetection struct {
	Box        tracking.Box
	RawText    string
	Confidence float64
}

// Detector locates plate regions in a frame.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Candidate, error)
}

// Recognizer reads the text inside one region of a frame.
type Recognizer interface {
	Recognize(ctx context.Context, frame Frame, box tracking.Box) (string, error)
}

// Recorder persists confirmed plates. *db.DB implements it.
type Recorder interface {
	InsertDetectionIfAbsent(ctx context.Context, d *db.PlateDetection) (bool, error)
}

// AllowList answers whether a plate belongs to a known vehicle. *db.DB
// implements it.
type AllowList interface {
	LookupAllowed(ctx context.Context, plate string) (*db.AllowedVehicle, bool, error)
}

// Event is a confirmed plate as reported to callers, enriched with the
// session context and allow-list status.
type Event struct {
	tracking.ConfirmedPlate

	SessionID string
	Source    string
	Seq       int64
	Timestamp time.Time

	// First is set the first time a track confirms this plate in the
	// session. Later frames repeat the confirmation with First unset.
	First bool
	// Recorded is set when this confirmation created the log entry for
	// the plate.
	Recorded bool

	Allowed bool
	Vehicle *db.AllowedVehicle
}
