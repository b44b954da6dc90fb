package api

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/banshee-data/plate.report/internal/httputil"
	"github.com/banshee-data/plate.report/internal/pipeline"
)

const maxImageBytes = 16 << 20

// RecognisedPlate is one plate read from a single uploaded image. No
// tracking or voting is involved, so the text is a single best effort
// reading.
type RecognisedPlate struct {
	PlateStatus

	BBox       [4]int32 `json:"bbox"`
	RawText    string   `json:"raw_text"`
	Confidence float64  `json:"confidence"`
}

// recognise runs detection and recognition on one uploaded image and
// reports the allow-list status of every plate found. The image is the
// request body, or the "file" field of a multipart form.
func (s *Server) recognise(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}

	detector, recognizer := s.inference()
	if detector == nil || recognizer == nil {
		httputil.ServiceUnavailable(w, "No inference service configured")
		return
	}

	data, err := readImage(w, r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	frame := pipeline.Frame{Timestamp: time.Now(), Data: data}
	candidates, err := detector.Detect(r.Context(), frame)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("Detection failed: %v", err))
		return
	}

	plates := make([]RecognisedPlate, 0, len(candidates))
	for _, c := range candidates {
		if !c.Box.Valid() {
			continue
		}
		text, err := recognizer.Recognize(r.Context(), frame, c.Box)
		if err != nil {
			httputil.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("Recognition failed: %v", err))
			return
		}
		ps, err := s.plateStatus(r, text)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to check plate: %v", err))
			return
		}
		plates = append(plates, RecognisedPlate{
			BBox:        [4]int32{c.Box.X1, c.Box.Y1, c.Box.X2, c.Box.Y2},
			RawText:     text,
			PlateStatus: ps,
			Confidence:  c.Confidence,
		})
	}

	httputil.WriteJSONOK(w, map[string]interface{}{"plates": plates})
}

func readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing 'file' field: %v", err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read upload: %v", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return data, nil
}
