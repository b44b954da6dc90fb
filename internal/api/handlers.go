package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/httputil"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/version"
)

const maxLimit = 1000

// DetectionAPI is the JSON form of a logged detection.
type DetectionAPI struct {
	Plate      string    `json:"plate"`
	TrackID    uint64    `json:"track_id"`
	Source     string    `json:"source"`
	SessionID  string    `json:"session_id,omitempty"`
	Confidence float64   `json:"confidence"`
	DetectedAt time.Time `json:"detected_at"`
}

func detectionToAPI(d db.PlateDetection) DetectionAPI {
	return DetectionAPI{
		Plate:      d.Plate,
		TrackID:    d.TrackID,
		Source:     d.Source,
		SessionID:  d.SessionID,
		Confidence: d.Confidence,
		DetectedAt: d.DetectedAt().UTC(),
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	sessions := make([]map[string]interface{}, 0)
	for _, sess := range s.sessionList() {
		sessions = append(sessions, map[string]interface{}{
			"id":     sess.ID(),
			"source": sess.Source(),
			"tracks": sess.Tracker().TrackCount(),
			"stats":  sess.Stats(),
		})
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"version":  version.Get(),
		"tuning":   s.tuning,
		"sessions": sessions,
	})
}

func (s *Server) listDetections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxLimit {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'limit' parameter (1-%d)", maxLimit))
			return
		}
		limit = parsed
	}

	detections, err := s.store.RecentDetections(r.Context(), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve detections: %v", err))
		return
	}

	out := make([]DetectionAPI, len(detections))
	for i, d := range detections {
		out[i] = detectionToAPI(d)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleAllowed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		vehicles, err := s.store.AllowedVehicles(r.Context())
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve allow-list: %v", err))
			return
		}
		if vehicles == nil {
			vehicles = []db.AllowedVehicle{}
		}
		httputil.WriteJSONOK(w, vehicles)

	case http.MethodPost:
		var v db.AllowedVehicle
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024)).Decode(&v); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("Invalid JSON body: %v", err))
			return
		}
		cleaned, _ := s.normalizer.Normalize(v.Plate)
		if cleaned == "" {
			httputil.BadRequest(w, "Missing or unreadable 'plate'")
			return
		}
		v.Plate = cleaned
		v.AddedUnixNanos = 0
		if err := s.store.AddAllowedVehicle(r.Context(), &v); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to add vehicle: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, v)

	case http.MethodDelete:
		plate, _ := s.normalizer.Normalize(r.URL.Query().Get("plate"))
		if plate == "" {
			httputil.BadRequest(w, "Missing 'plate' parameter")
			return
		}
		removed, err := s.store.RemoveAllowedVehicle(r.Context(), plate)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to remove vehicle: %v", err))
			return
		}
		if !removed {
			httputil.NotFound(w, fmt.Sprintf("%s is not on the allow-list", plate))
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

// PlateStatus answers "is this plate allowed, and have we seen it".
type PlateStatus struct {
	Plate    string             `json:"plate"`
	Valid    bool               `json:"valid"`
	Status   string             `json:"status"` // "allowed" or "unknown"
	Vehicle  *db.AllowedVehicle `json:"vehicle,omitempty"`
	LastSeen *DetectionAPI      `json:"last_seen,omitempty"`
}

func (s *Server) plateStatus(r *http.Request, raw string) (PlateStatus, error) {
	cleaned, valid := s.normalizer.Normalize(raw)
	ps := PlateStatus{Plate: cleaned, Valid: valid, Status: "unknown"}
	if cleaned == "" {
		return ps, nil
	}

	v, ok, err := s.store.LookupAllowed(r.Context(), cleaned)
	if err != nil {
		return ps, err
	}
	if ok {
		ps.Status = "allowed"
		ps.Vehicle = v
	}

	d, err := s.store.GetDetection(r.Context(), cleaned)
	if err != nil {
		return ps, err
	}
	if d != nil {
		api := detectionToAPI(*d)
		ps.LastSeen = &api
	}
	return ps, nil
}

func (s *Server) checkPlate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	raw := r.URL.Query().Get("plate")
	if raw == "" {
		httputil.BadRequest(w, "Missing 'plate' parameter")
		return
	}
	ps, err := s.plateStatus(r, raw)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to check plate: %v", err))
		return
	}
	httputil.WriteJSONOK(w, ps)
}

// TrackAPI is the JSON form of a live track.
type TrackAPI struct {
	ID        uint64    `json:"id"`
	BBox      [4]int32  `json:"bbox"`
	Frames    int       `json:"frames"`
	Readings  int       `json:"readings"`
	LastText  string    `json:"last_text,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SessionTracksAPI lists the live tracks of one session.
type SessionTracksAPI struct {
	SessionID string     `json:"session_id"`
	Source    string     `json:"source"`
	Tracks    []TrackAPI `json:"tracks"`
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	out := make([]SessionTracksAPI, 0)
	for _, sess := range s.sessionList() {
		st := SessionTracksAPI{SessionID: sess.ID(), Source: sess.Source(), Tracks: []TrackAPI{}}
		for _, tr := range sess.Tracker().Snapshot() {
			t := TrackAPI{
				ID:        tr.ID,
				BBox:      [4]int32{tr.Box.X1, tr.Box.Y1, tr.Box.X2, tr.Box.Y2},
				Frames:    tr.Frames,
				Readings:  len(tr.History),
				FirstSeen: time.Unix(0, tr.FirstUnixNanos).UTC(),
				LastSeen:  time.Unix(0, tr.LastUnixNanos).UTC(),
			}
			if n := len(tr.History); n > 0 {
				t.LastText = tr.History[n-1].Text
			}
			st.Tracks = append(st.Tracks, t)
		}
		out = append(out, st)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) inference() (pipeline.Detector, pipeline.Recognizer) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.detector, s.recognizer
}
