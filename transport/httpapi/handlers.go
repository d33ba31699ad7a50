package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/soocke/qrscan/domain/decode"
	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/domain/session"
)

const readTimeout = 30 * time.Second

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	State     string            `json:"state"`
	SessionID string            `json:"session_id,omitempty"`
	Zoom      ZoomResponse      `json:"zoom"`
	Torch     TorchResponse     `json:"torch"`
	Frames    FrameStats        `json:"frames"`
	Results   *results.HubStats `json:"results,omitempty"`
}

type FrameStats struct {
	Offered     uint64  `json:"offered"`
	Dropped     uint64  `json:"dropped"`
	Undecodable uint64  `json:"undecodable"`
	Decoded     uint64  `json:"decoded"`
	Errors      uint64  `json:"errors"`
	Symbols     uint64  `json:"symbols"`
	AvgDecodeMs float64 `json:"avg_decode_ms"`
	SessionSecs float64 `json:"session_secs"`
	TotalSecs   float64 `json:"total_secs"`
}

type ZoomResponse struct {
	Ready bool    `json:"ready"`
	Ratio float64 `json:"ratio"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type TorchResponse struct {
	Available bool `json:"available"`
	Enabled   bool `json:"enabled"`
}

// StartRequest is the optional body of POST /scan/start.
type StartRequest struct {
	LensFacing string   `json:"lens_facing"`
	Resolution string   `json:"resolution"`
	Zoom       *float64 `json:"zoom,omitempty"`
}

type ZoomRequest struct {
	Ratio *float64 `json:"ratio"`
}

type ReadResponse struct {
	Symbols []session.Symbol `json:"symbols"`
}

func (s *Server) zoom() ZoomResponse {
	return ZoomResponse{
		Ready: s.scanner.ZoomReady(),
		Ratio: s.scanner.ZoomRatio(),
		Min:   s.scanner.MinZoomRatio(),
		Max:   s.scanner.MaxZoomRatio(),
	}
}

func (s *Server) torch() TorchResponse {
	return TorchResponse{Available: s.scanner.TorchAvailable(), Enabled: s.scanner.TorchEnabled()}
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st := s.scanner.Stats()
	resp := StatusResponse{
		State:     st.State.String(),
		SessionID: st.SessionID,
		Zoom:      s.zoom(),
		Torch:     s.torch(),
		Frames: FrameStats{
			Offered:     st.FramesOffered,
			Dropped:     st.FramesDropped,
			Undecodable: st.Undecodable,
			Decoded:     st.Decoded,
			Errors:      st.DecodeErrors,
			Symbols:     st.Symbols,
			AvgDecodeMs: float64(st.AvgDecode) / float64(time.Millisecond),
			SessionSecs: st.Session.Seconds(),
			TotalSecs:   st.Total.Seconds(),
		},
	}
	if s.events != nil {
		hs := s.events.Stats()
		resp.Results = &hs
	}
	writeJSON(w, http.StatusOK, resp)
}

// command wraps a fire-and-forget control call. The response reports the
// state right after the call; device work completes asynchronously.
func (s *Server) command(fn func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn()
		writeJSON(w, http.StatusAccepted, map[string]string{"state": s.scanner.State().String()})
	}
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid start request: "+err.Error())
			return
		}
	}
	cfg := s.defaults
	if req.LensFacing != "" {
		cfg.Facing = session.ParseFacing(req.LensFacing)
	}
	if req.Resolution != "" {
		cfg.Resolution = session.ParseResolution(req.Resolution)
	}
	s.scanner.Start(cfg)
	if req.Zoom != nil {
		s.scanner.SetZoomRatio(*req.Zoom)
	}
	s.logger.Info("scan start requested", "facing", cfg.Facing.String(), "resolution", cfg.Resolution.String())
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.scanner.State().String(), "session_id": s.scanner.SessionID()})
}

func (s *Server) getZoom(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.zoom())
}

func (s *Server) getZoomValue(w http.ResponseWriter, r *http.Request) {
	z := s.zoom()
	v := z.Ratio
	switch mux.Vars(r)["which"] {
	case "min":
		v = z.Min
	case "max":
		v = z.Max
	}
	writeJSON(w, http.StatusOK, map[string]float64{"ratio": v})
}

func (s *Server) setZoom(w http.ResponseWriter, r *http.Request) {
	var req ZoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ratio == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"ratio\": <number>}")
		return
	}
	if *req.Ratio <= 0 {
		writeError(w, http.StatusBadRequest, "ratio must be positive")
		return
	}
	s.scanner.SetZoomRatio(*req.Ratio)
	writeJSON(w, http.StatusAccepted, s.zoom())
}

func (s *Server) getTorch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.torch())
}

// read decodes a still image sent either as a multipart "image" field or
// as the raw request body. It never touches the live session.
func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	if s.decoder == nil {
		writeError(w, http.StatusServiceUnavailable, "no decoder configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	var src io.Reader = r.Body
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "multipart/form-data" {
		f, _, err := r.FormFile("image")
		if err != nil {
			writeError(w, http.StatusBadRequest, "missing image field: "+err.Error())
			return
		}
		defer f.Close()
		src = f
	}

	ctx, cancel := contextWithTimeout(r, readTimeout)
	defer cancel()
	symbols, err := decode.DecodeReader(ctx, s.decoder, src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if symbols == nil {
		symbols = []session.Symbol{}
	}
	writeJSON(w, http.StatusOK, ReadResponse{Symbols: symbols})
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, []results.Event{})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	events := s.events.Recent(limit)
	if events == nil {
		events = []results.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
