package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MeKo-Tech/idscan/internal/extract"
	"github.com/MeKo-Tech/idscan/internal/frame"
	"github.com/MeKo-Tech/idscan/internal/preprocess"
	"github.com/MeKo-Tech/idscan/internal/scan"
	"github.com/MeKo-Tech/idscan/internal/sink"
	"github.com/MeKo-Tech/idscan/internal/version"
)

// scanner runs one-shot scans for uploads.
type scanner interface {
	Scan(ctx context.Context, f frame.Frame, strategy preprocess.Strategy) (*scan.Outcome, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	scanner     scanner
	components  scan.Components
	scanConfig  scan.Config
	sink        sink.Sink
	logger      *slog.Logger
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// Upload limits per client, 0 disables a limit.
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64

	Scan     scan.Config
	Pipeline scan.PipelineConfig
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	OCR     bool   `json:"ocr"`
	Time    string `json:"time"`
}

// ScanResponse is returned by POST /scan/image.
type ScanResponse struct {
	Success    bool            `json:"success"`
	Record     *extract.Record `json:"record,omitempty"`
	Terminal   bool            `json:"terminal"`
	Missing    []string        `json:"missing,omitempty"`
	Present    bool            `json:"present"`
	Rect       *frame.Rect     `json:"rect,omitempty"`
	Confidence float64         `json:"confidence"`
	DurationMs int64           `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// NewServer creates a scan server. A nil comp.Engines leaves the scan
// endpoints answering 503 while /health and /metrics keep working.
func NewServer(config Config, comp scan.Components, snk sink.Sink) (*Server, error) {
	if comp.Logger == nil {
		comp.Logger = slog.Default()
	}
	if snk == nil {
		snk = sink.Nop{}
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}

	s := &Server{
		components:  comp,
		scanConfig:  config.Scan,
		sink:        snk,
		logger:      comp.Logger,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
	}

	p, err := scan.NewPipeline(config.Pipeline, comp)
	switch {
	case errors.Is(err, scan.ErrNoEngine):
		s.logger.Warn("No OCR engine configured, scan endpoints disabled")
	case err != nil:
		return nil, err
	default:
		s.scanner = p
	}

	if config.RequestsPerMinute > 0 || config.RequestsPerHour > 0 ||
		config.MaxRequestsPerDay > 0 || config.MaxDataPerDay > 0 {
		s.rateLimiter = NewRateLimiter(config.RequestsPerMinute, config.RequestsPerHour,
			config.MaxRequestsPerDay, config.MaxDataPerDay)
	}
	return s, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	if s.sink != nil {
		return s.sink.Close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan/image", s.corsMiddleware(s.rateLimitMiddleware(s.scanImageHandler)))
	mux.HandleFunc("/scan/live", s.liveHandler)
	mux.Handle("/metrics", metricsHandler())
}

func healthVersion() string {
	v, _, _ := version.Info()
	return v
}
