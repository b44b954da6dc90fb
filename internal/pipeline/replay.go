package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/plate.report/internal/tracking"
)

// maxReplayLine bounds one JSON line of recorded detections.
const maxReplayLine = 4 << 20

// RecordedFrame is one line of a detection recording: the detector and
// recognizer output for a single frame.
type RecordedFrame struct {
	Seq        int64
	Timestamp  time.Time
	Detections []RawDetection
}

type recordedDetection struct {
	BBox       [4]int32 `json:"bbox"`
	RawText    string   `json:"raw_text"`
	Confidence float64  `json:"confidence"`
}

type recordedFrame struct {
	Seq        int64               `json:"seq"`
	Timestamp  time.Time           `json:"ts"`
	Detections []recordedDetection `json:"detections"`
}

// FrameReader decodes a JSON-lines detection recording, one frame per
// line. Blank lines are skipped.
type FrameReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewFrameReader returns a reader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)
	return &FrameReader{scanner: scanner}
}

// Next returns the next frame, or io.EOF after the last one.
func (fr *FrameReader) Next() (RecordedFrame, error) {
	for fr.scanner.Scan() {
		fr.line++
		line := bytes.TrimSpace(fr.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec recordedFrame
		if err := json.Unmarshal(line, &rec); err != nil {
			return RecordedFrame{}, fmt.Errorf("line %d: %w", fr.line, err)
		}

		frame := RecordedFrame{
			Seq:        rec.Seq,
			Timestamp:  rec.Timestamp,
			Detections: make([]RawDetection, 0, len(rec.Detections)),
		}
		for _, d := range rec.Detections {
			frame.Detections = append(frame.Detections, RawDetection{
				Box:        tracking.Box{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
				RawText:    d.RawText,
				Confidence: d.Confidence,
			})
		}
		return frame, nil
	}
	if err := fr.scanner.Err(); err != nil {
		return RecordedFrame{}, fmt.Errorf("line %d: %w", fr.line+1, err)
	}
	return RecordedFrame{}, io.EOF
}

// ReadFrames decodes a whole recording.
func ReadFrames(r io.Reader) ([]RecordedFrame, error) {
	fr := NewFrameReader(r)
	var frames []RecordedFrame
	for {
		f, err := fr.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
}

// Replay feeds a recording through the session in order, calling emit
// for every confirmation. It stops at the first decode error or when ctx
// is cancelled.
func Replay(ctx context.Context, s *Session, r io.Reader, emit func(Event)) (int, error) {
	fr := NewFrameReader(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		f, err := fr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("replay: %w", err)
		}
		for _, ev := range s.Observe(ctx, f.Seq, f.Timestamp, f.Detections) {
			if emit != nil {
				emit(ev)
			}
		}
		n++
	}
}
