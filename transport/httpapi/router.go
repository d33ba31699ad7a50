package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/soocke/qrscan/domain/results"
	"github.com/soocke/qrscan/domain/session"
)

// maxImageBytes bounds uploaded still images.
const maxImageBytes = 32 << 20

// Scanner is the session surface the bridge drives.
type Scanner interface {
	Start(cfg session.StartConfig)
	Stop()
	Pause()
	Resume()
	State() session.State
	SessionID() string
	Stats() session.Stats
	SetZoomRatio(ratio float64)
	ZoomRatio() float64
	MinZoomRatio() float64
	MaxZoomRatio() float64
	ZoomReady() bool
	EnableTorch(enabled bool)
	ToggleTorch()
	TorchAvailable() bool
	TorchEnabled() bool
}

// Events exposes recent scan events.
type Events interface {
	Recent(n int) []results.Event
	Stats() results.HubStats
}

// Server maps HTTP routes onto a Scanner.
type Server struct {
	scanner  Scanner
	events   Events
	decoder  session.Decoder
	defaults session.StartConfig
	logger   *slog.Logger
}

// NewServer returns a bridge. events may be nil; defaults is used for
// start requests that omit fields.
func NewServer(logger *slog.Logger, scanner Scanner, decoder session.Decoder, events Events, defaults session.StartConfig) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{scanner: scanner, events: events, decoder: decoder, defaults: defaults, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/status", s.status).Methods("GET")

	r.HandleFunc("/scan/start", s.start).Methods("POST")
	r.HandleFunc("/scan/stop", s.command(s.scanner.Stop)).Methods("POST")
	r.HandleFunc("/scan/pause", s.command(s.scanner.Pause)).Methods("POST")
	r.HandleFunc("/scan/resume", s.command(s.scanner.Resume)).Methods("POST")

	r.HandleFunc("/zoom", s.getZoom).Methods("GET")
	r.HandleFunc("/zoom", s.setZoom).Methods("PUT", "POST")
	r.HandleFunc("/zoom/{which:min|max|current}", s.getZoomValue).Methods("GET")

	r.HandleFunc("/torch", s.getTorch).Methods("GET")
	r.HandleFunc("/torch/enable", s.command(func() { s.scanner.EnableTorch(true) })).Methods("POST")
	r.HandleFunc("/torch/disable", s.command(func() { s.scanner.EnableTorch(false) })).Methods("POST")
	r.HandleFunc("/torch/toggle", s.command(s.scanner.ToggleTorch)).Methods("POST")

	r.HandleFunc("/read", s.read).Methods("POST")
	r.HandleFunc("/events", s.recent).Methods("GET")

	r.Use(s.logRequests)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
