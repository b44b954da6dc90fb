package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/tracking"
)

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "plates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := NewServer(store, nil)
	require.NoError(t, err)
	return s, store
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestListDetections(t *testing.T) {
	s, store := setupTestServer(t)
	ctx := context.Background()

	for i, p := range []string{"MH12AB1234", "KA01AB1234"} {
		_, err := store.InsertDetectionIfAbsent(ctx, &db.PlateDetection{
			Plate:             p,
			TrackID:           uint64(i + 1),
			Source:            "gate",
			DetectedUnixNanos: time.Date(2026, 2, 1, 9, i, 0, 0, time.UTC).UnixNano(),
		})
		require.NoError(t, err)
	}

	rec := do(t, s, http.MethodGet, "/api/detections?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]DetectionAPI](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "KA01AB1234", got[0].Plate)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 1, 0, 0, time.UTC), got[0].DetectedAt)

	for _, bad := range []string{"0", "abc", "5000"} {
		rec = do(t, s, http.MethodGet, "/api/detections?limit="+bad, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", bad)
	}

	rec = do(t, s, http.MethodPost, "/api/detections", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAllowedLifecycle(t *testing.T) {
	s, _ := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/allowed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	body := []byte(`{"plate":"mh 12 ab 1234","owner_name":"R. Kulkarni","vehicle_type":"Car"}`)
	rec = do(t, s, http.MethodPost, "/api/allowed", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[db.AllowedVehicle](t, rec)
	assert.Equal(t, "MH12AB1234", created.Plate)
	assert.NotZero(t, created.AddedUnixNanos)

	rec = do(t, s, http.MethodGet, "/api/allowed", nil)
	list := decode[[]db.AllowedVehicle](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "R. Kulkarni", list[0].OwnerName)

	rec = do(t, s, http.MethodDelete, "/api/allowed?plate=MH12AB1234", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, s, http.MethodDelete, "/api/allowed?plate=MH12AB1234", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllowed_BadRequests(t *testing.T) {
	s, _ := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   int
	}{
		{"bad json", http.MethodPost, "/api/allowed", `{"plate":`, http.StatusBadRequest},
		{"noise only plate", http.MethodPost, "/api/allowed", `{"plate":"IND"}`, http.StatusBadRequest},
		{"delete without plate", http.MethodDelete, "/api/allowed", "", http.StatusBadRequest},
		{"put", http.MethodPut, "/api/allowed", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.target, []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCheckPlate(t *testing.T) {
	s, store := setupTestServer(t)
	ctx := context.Background()
	require.NoError(t, store.AddAllowedVehicle(ctx, &db.AllowedVehicle{Plate: "MH12AB1234", VehicleType: "Car"}))
	_, err := store.InsertDetectionIfAbsent(ctx, &db.PlateDetection{Plate: "MH12AB1234", TrackID: 4, Source: "gate"})
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/check?plate=MH-12-AB-1234", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ps := decode[PlateStatus](t, rec)
	assert.Equal(t, "MH12AB1234", ps.Plate)
	assert.True(t, ps.Valid)
	assert.Equal(t, "allowed", ps.Status)
	require.NotNil(t, ps.Vehicle)
	assert.Equal(t, "Car", ps.Vehicle.VehicleType)
	require.NotNil(t, ps.LastSeen)
	assert.Equal(t, uint64(4), ps.LastSeen.TrackID)

	rec = do(t, s, http.MethodGet, "/api/check?plate=KA01AB1234", nil)
	ps = decode[PlateStatus](t, rec)
	assert.Equal(t, "unknown", ps.Status)
	assert.Nil(t, ps.LastSeen)

	rec = do(t, s, http.MethodGet, "/api/check", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTracksAndStatus(t *testing.T) {
	s, _ := setupTestServer(t)

	sess, err := pipeline.NewSession(pipeline.SessionConfig{Source: "gate"})
	require.NoError(t, err)
	s.AttachSession(sess)

	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	sess.Observe(context.Background(), 1, now, []pipeline.RawDetection{
		{Box: tracking.Box{X1: 100, Y1: 100, X2: 200, Y2: 140}, RawText: "MH12AB1234", Confidence: 0.9},
	})

	rec := do(t, s, http.MethodGet, "/api/tracks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tracks := decode[[]SessionTracksAPI](t, rec)
	require.Len(t, tracks, 1)
	assert.Equal(t, sess.ID(), tracks[0].SessionID)
	require.Len(t, tracks[0].Tracks, 1)
	tr := tracks[0].Tracks[0]
	assert.Equal(t, uint64(1), tr.ID)
	assert.Equal(t, [4]int32{100, 100, 200, 140}, tr.BBox)
	assert.Equal(t, "MH12AB1234", tr.LastText)
	assert.Equal(t, now, tr.FirstSeen)

	rec = do(t, s, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[map[string]interface{}](t, rec)
	assert.Contains(t, status, "version")
	assert.Contains(t, status, "tuning")
	assert.Len(t, status["sessions"], 1)

	s.DetachSession(sess.ID())
	rec = do(t, s, http.MethodGet, "/api/tracks", nil)
	assert.Equal(t, "[]\n", rec.Body.String())
}

type fakeInference struct {
	candidates []pipeline.Candidate
	text       string
	err        error
	got        []byte
}

func (f *fakeInference) Detect(_ context.Context, frame pipeline.Frame) ([]pipeline.Candidate, error) {
	f.got = frame.Data
	return f.candidates, f.err
}

func (f *fakeInference) Recognize(_ context.Context, _ pipeline.Frame, _ tracking.Box) (string, error) {
	return f.text, nil
}

func TestRecognise(t *testing.T) {
	s, store := setupTestServer(t)
	require.NoError(t, store.AddAllowedVehicle(context.Background(), &db.AllowedVehicle{Plate: "MH12AB1234"}))

	rec := do(t, s, http.MethodPost, "/api/recognise", []byte("jpeg"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fake := &fakeInference{
		candidates: []pipeline.Candidate{
			{Box: tracking.Box{X1: 100, Y1: 100, X2: 200, Y2: 140}, Confidence: 0.8},
			{Box: tracking.Box{X1: 5, Y1: 5, X2: 5, Y2: 5}},
		},
		text: "IND MH 12 AB 1234",
	}
	s.SetInference(fake, fake)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "car.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/recognise", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, []byte("jpeg-bytes"), fake.got)

	resp := decode[struct {
		Plates []RecognisedPlate `json:"plates"`
	}](t, rr)
	require.Len(t, resp.Plates, 1, "degenerate box skipped")
	p := resp.Plates[0]
	assert.Equal(t, "MH12AB1234", p.Plate)
	assert.Equal(t, "IND MH 12 AB 1234", p.RawText)
	assert.Equal(t, "allowed", p.Status)
	assert.InDelta(t, 0.8, p.Confidence, 1e-9)
}

func TestRecognise_DetectorFailure(t *testing.T) {
	s, _ := setupTestServer(t)
	fake := &fakeInference{err: errors.New("model offline")}
	s.SetInference(fake, fake)

	rec := do(t, s, http.MethodPost, "/api/recognise", []byte("jpeg"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "model offline"))

	rec = do(t, s, http.MethodPost, "/api/recognise", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Contains(t, statusCodeColor(http.StatusTeapot), "418")
}
