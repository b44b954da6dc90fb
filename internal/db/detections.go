package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PlateDetection is one row of the confirmed-plate log. Plates are unique:
// the first confirmation of a plate is kept and later ones are ignored.
type PlateDetection struct {
	ID                int64
	Plate             string
	TrackID           uint64
	Source            string
	SessionID         string
	Confidence        float64
	DetectedUnixNanos int64
}

// DetectedAt returns the detection time.
func (d *PlateDetection) DetectedAt() time.Time {
	return time.Unix(0, d.DetectedUnixNanos)
}

// InsertDetectionIfAbsent records a confirmed plate unless the plate is
// already logged. It reports whether a row was inserted and sets d.ID when
// it was.
func (db *DB) InsertDetectionIfAbsent(ctx context.Context, d *PlateDetection) (bool, error) {
	if d.Plate == "" {
		return false, fmt.Errorf("insert detection: empty plate")
	}
	if d.DetectedUnixNanos == 0 {
		d.DetectedUnixNanos = time.Now().UnixNano()
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO plate_detections (
			plate, track_id, source, session_id, confidence, detected_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(plate) DO NOTHING`,
		d.Plate,
		int64(d.TrackID),
		d.Source,
		d.SessionID,
		d.Confidence,
		d.DetectedUnixNanos,
	)
	if err != nil {
		return false, fmt.Errorf("insert detection %s: %w", d.Plate, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert detection rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if d.ID, err = result.LastInsertId(); err != nil {
		return true, fmt.Errorf("get detection insert ID: %w", err)
	}
	return true, nil
}

// GetDetection returns the logged detection for a plate, or nil if the
// plate has never been confirmed.
func (db *DB) GetDetection(ctx context.Context, plate string) (*PlateDetection, error) {
	row := db.QueryRowContext(ctx, `
		SELECT detection_id, plate, track_id, source, session_id, confidence, detected_unix_nanos
		FROM plate_detections WHERE plate = ?`, plate)

	d, err := scanDetection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get detection %s: %w", plate, err)
	}
	return d, nil
}

// RecentDetections returns up to limit logged detections, newest first.
func (db *DB) RecentDetections(ctx context.Context, limit int) ([]PlateDetection, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
		SELECT detection_id, plate, track_id, source, session_id, confidence, detected_unix_nanos
		FROM plate_detections
		ORDER BY detection_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent detections: %w", err)
	}
	defer rows.Close()

	var detections []PlateDetection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return detections, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetection(s rowScanner) (*PlateDetection, error) {
	var (
		d       PlateDetection
		trackID int64
	)
	if err := s.Scan(
		&d.ID,
		&d.Plate,
		&trackID,
		&d.Source,
		&d.SessionID,
		&d.Confidence,
		&d.DetectedUnixNanos,
	); err != nil {
		return nil, err
	}
	d.TrackID = uint64(trackID)
	return &d, nil
}
