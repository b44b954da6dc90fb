package db

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertDetectionIfAbsent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &PlateDetection{
		Plate:             "MH12AB1234",
		TrackID:           1,
		Source:            "gate-1",
		SessionID:         "session-a",
		Confidence:        0.89,
		DetectedUnixNanos: time.Unix(1_700_000_000, 0).UnixNano(),
	}
	inserted, err := db.InsertDetectionIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NotZero(t, first.ID)

	// Same plate from a later track and another source is ignored.
	dup := &PlateDetection{
		Plate:   "MH12AB1234",
		TrackID: 9,
		Source:  "gate-2",
	}
	inserted, err = db.InsertDetectionIfAbsent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Zero(t, dup.ID)

	got, err := db.GetDetection(ctx, "MH12AB1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("stored detection mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, time.Unix(1_700_000_000, 0), got.DetectedAt())
}

func TestInsertDetectionIfAbsent_DefaultsTimestamp(t *testing.T) {
	db := newTestDB(t)

	before := time.Now().UnixNano()
	d := &PlateDetection{Plate: "KA01AB1234", TrackID: 3, Source: "video"}
	_, err := db.InsertDetectionIfAbsent(context.Background(), d)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.DetectedUnixNanos, before)
}

func TestInsertDetectionIfAbsent_EmptyPlate(t *testing.T) {
	db := newTestDB(t)
	_, err := db.InsertDetectionIfAbsent(context.Background(), &PlateDetection{})
	assert.Error(t, err)
}

func TestGetDetection_Missing(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetDetection(context.Background(), "DL1CAB1234")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecentDetections(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	plates := []string{"MH12AB1234", "KA01AB1234", "DL1CAB1234"}
	for i, p := range plates {
		_, err := db.InsertDetectionIfAbsent(ctx, &PlateDetection{
			Plate:   p,
			TrackID: uint64(i + 1),
			Source:  "webcam",
		})
		require.NoError(t, err)
	}

	recent, err := db.RecentDetections(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "DL1CAB1234", recent[0].Plate)
	assert.Equal(t, "KA01AB1234", recent[1].Plate)
	assert.Equal(t, uint64(2), recent[1].TrackID)

	all, err := db.RecentDetections(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
