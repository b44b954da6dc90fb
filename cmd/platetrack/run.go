package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/plate.report/internal/api"
	"github.com/banshee-data/plate.report/internal/config"
	"github.com/banshee-data/plate.report/internal/db"
	"github.com/banshee-data/plate.report/internal/pipeline"
	"github.com/banshee-data/plate.report/internal/remote"
)

// eventLine is the JSON-lines output of a confirmation.
type eventLine struct {
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"ts"`
	Source     string    `json:"source"`
	TrackID    uint64    `json:"track_id"`
	Plate      string    `json:"plate"`
	BBox       [4]int32  `json:"bbox"`
	Votes      int       `json:"votes"`
	Samples    int       `json:"samples"`
	Confidence float64   `json:"confidence"`
	Recorded   bool      `json:"recorded"`
	Allowed    bool      `json:"allowed"`
	Owner      string    `json:"owner,omitempty"`
}

func toEventLine(ev pipeline.Event) eventLine {
	line := eventLine{
		Seq:        ev.Seq,
		Timestamp:  ev.Timestamp.UTC(),
		Source:     ev.Source,
		TrackID:    ev.TrackID,
		Plate:      ev.Plate,
		BBox:       [4]int32{ev.Box.X1, ev.Box.Y1, ev.Box.X2, ev.Box.Y2},
		Votes:      ev.Votes,
		Samples:    ev.Samples,
		Confidence: ev.Confidence,
		Recorded:   ev.Recorded,
		Allowed:    ev.Allowed,
	}
	if ev.Vehicle != nil {
		line.Owner = ev.Vehicle.OwnerName
	}
	return line
}

// eventWriter prints confirmations as JSON lines. Repeats of an already
// announced confirmation are skipped unless all is set.
type eventWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	all bool
}

func (w *eventWriter) emit(ev pipeline.Event) {
	if !ev.First && !w.all {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(toEventLine(ev)); err != nil {
		log.Printf("failed to write event: %v", err)
	}
}

func (a *app) newSession(database *db.DB, client *remote.Client) (*pipeline.Session, error) {
	g, err := a.tuning.Grammar()
	if err != nil {
		return nil, err
	}
	cfg := pipeline.SessionConfig{
		Source:         a.env.Source,
		Tracker:        a.tuning.TrackerConfig(),
		Grammar:        g,
		RecognizeEvery: a.recognizeEvery(),
		Recorder:       database,
		AllowList:      database,
	}
	if client != nil {
		cfg.Detector = client
		cfg.Recognizer = client
	}
	return pipeline.NewSession(cfg)
}

func (a *app) dialDetector() (*remote.Client, error) {
	if a.env.DetectorAddr == "" {
		return nil, nil
	}
	return remote.Dial(a.env.DetectorAddr, a.env.DetectorTimeout)
}

func (a *app) cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(a.out)
	replayPath := fs.String("replay", "", "JSON-lines detection recording to replay ('-' for stdin)")
	imageDir := fs.String("images", "", "Directory of frames to send to the inference service, in name order")
	interval := fs.Duration("interval", 0, "Frame spacing for -images timestamps (0 uses the wall clock)")
	all := fs.Bool("all", false, "Print every confirmation, not only the first per track")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if (*replayPath == "") == (*imageDir == "") {
		fmt.Fprintln(a.out, "run needs exactly one of -replay or -images")
		fs.PrintDefaults()
		return errUsage
	}

	client, err := a.dialDetector()
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}
	if *imageDir != "" && client == nil {
		return fmt.Errorf("-images needs an inference service: set -detector or %s", config.EnvDetectorAddr)
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	sess, err := a.newSession(database, client)
	if err != nil {
		return err
	}
	log.Printf("session %s on source %q", sess.ID(), sess.Source())

	stopHTTP, err := a.startHTTP(ctx, database, client, sess)
	if err != nil {
		return err
	}
	defer stopHTTP()

	w := &eventWriter{enc: json.NewEncoder(a.out), all: *all}
	if *replayPath != "" {
		err = replayFile(ctx, sess, *replayPath, w.emit)
	} else {
		err = processImages(ctx, sess, *imageDir, *interval, w.emit)
	}
	stats := sess.Stats()
	log.Printf("processed %d frames: %d detections, %d confirmations, %d new plates",
		stats.Frames, stats.Detections, stats.Confirmed, stats.Recorded)
	if err != nil {
		return err
	}

	// Keep serving the API until interrupted.
	if a.env.Listen != "" {
		log.Printf("input finished; serving on %s until interrupted", a.env.Listen)
		<-ctx.Done()
	}
	return nil
}

func replayFile(ctx context.Context, sess *pipeline.Session, path string, emit func(pipeline.Event)) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer f.Close()
		r = f
	}
	_, err := pipeline.Replay(ctx, sess, r, emit)
	return err
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// listFrames returns the image files in dir sorted by name.
func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func processImages(ctx context.Context, sess *pipeline.Session, dir string, interval time.Duration, emit func(pipeline.Event)) error {
	paths, err := listFrames(dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no image files in %s", dir)
	}

	start := time.Now()
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read frame %s: %w", p, err)
		}
		frame := pipeline.Frame{Seq: int64(i + 1), Data: data}
		if interval > 0 {
			frame.Timestamp = start.Add(time.Duration(i) * interval)
		}

		events, err := sess.ProcessFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A failed frame is skipped; the tracker simply sees a gap.
			log.Printf("frame %s: %v", filepath.Base(p), err)
			continue
		}
		for _, ev := range events {
			emit(ev)
		}
	}
	return nil
}

func (a *app) cmdServe(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("serve takes no arguments")
	}
	if a.env.Listen == "" {
		a.env.Listen = ":8080"
	}

	client, err := a.dialDetector()
	if err != nil {
		return err
	}
	if client != nil {
		defer client.Close()
	}

	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	stop, err := a.startHTTP(ctx, database, client, nil)
	if err != nil {
		return err
	}
	defer stop()

	<-ctx.Done()
	return nil
}

// startHTTP serves the API and the database debug pages on the listen
// address, if one is configured. The returned func shuts the server down.
func (a *app) startHTTP(ctx context.Context, database *db.DB, client *remote.Client, sess *pipeline.Session) (func(), error) {
	if a.env.Listen == "" {
		return func() {}, nil
	}

	apiServer, err := api.NewServer(database, a.tuning)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		apiServer.AttachSession(sess)
	}
	if client != nil {
		apiServer.SetInference(client, client)
	}

	mux := apiServer.ServeMux()
	if err := database.AttachAdminRoutes(mux); err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:    a.env.Listen,
		Handler: api.LoggingMiddleware(mux),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP server listening on %s", a.env.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		wg.Wait()
	}, nil
}
