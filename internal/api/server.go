package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/plate.report/internal/config"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/monitoring"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/plate"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Store is the persistence the API reads and edits. *db.DB implements it.
type Store interface {
	RecentDetections(ctx context.Context, limit int) ([]db.PlateDetection, error)
	GetDetection(ctx context.Context, plate string) (*db.PlateDetection, error)
	AddAllowedVehicle(ctx context.Context, v *db.AllowedVehicle) error
	RemoveAllowedVehicle(ctx context.Context, plate string) (bool, error)
	AllowedVehicles(ctx context.Context) ([]db.AllowedVehicle, error)
	LookupAllowed(ctx context.Context, plate string) (*db.AllowedVehicle, bool, error)
}

// Server serves the JSON API over the detection log, the allow-list and
// the live sessions.
type Server struct {
	store      Store
	tuning     *config.TuningConfig
	normalizer *plate.Normalizer

	mu         sync.RWMutex
	sessions   map[string]*pipeline.Session
	detector   pipeline.Detector
	recognizer pipeline.Recognizer
}

// NewServer builds a server. tuning supplies the plate grammar used to
// clean plates submitted to the allow-list and the recognise endpoint.
func NewServer(store Store, tuning *config.TuningConfig) (*Server, error) {
	if tuning == nil {
		tuning = config.DefaultTuningConfig()
	}
	g, err := tuning.Grammar()
	if err != nil {
		return nil, err
	}
	n, err := plate.NewNormalizer(g)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:      store,
		tuning:     tuning,
		normalizer: n,
		sessions:   make(map[string]*pipeline.Session),
	}, nil
}

// AttachSession exposes a live session under /api/tracks.
func (s *Server) AttachSession(sess *pipeline.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID()] = sess
}

// DetachSession removes a session added with AttachSession.
func (s *Server) DetachSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// SetInference enables POST /api/recognise.
func (s *Server) SetInference(d pipeline.Detector, r pipeline.Recognizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detector = d
	s.recognizer = r
}

func (s *Server) sessionList() []*pipeline.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pipeline.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source() < out[j].Source() })
	return out
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status and duration of each request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/detections", s.listDetections)
	mux.HandleFunc("/api/allowed", s.handleAllowed)
	mux.HandleFunc("/api/check", s.checkPlate)
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/recognise", s.recognise)
	return mux
}
