package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/giftlist-scraper/internal/config"
	"github.com/JakeFAU/giftlist-scraper/internal/metadata"
	"github.com/JakeFAU/giftlist-scraper/internal/metrics"
	"github.com/JakeFAU/giftlist-scraper/internal/policy/hostblock"
	"github.com/JakeFAU/giftlist-scraper/internal/scraper"
)

const (
	readyTimeout = 2 * time.Second
	maxBodyBytes = 1 << 20
)

// Extractor is the pipeline entry point the handlers call.
type Extractor interface {
	ExtractWithTrace(ctx context.Context, pageURL string) (scraper.ProductMetadata, metadata.Trace)
}

// Pinger is a downstream dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the extractor.
type Server struct {
	router    chi.Router
	extractor Extractor
	ready     []Pinger
	blocked   *hostblock.Blocklist
	cfg       config.Config
	logger    *zap.Logger
	// extractBudget is shorter than the request timeout so the handler
	// always has time to write what finished.
	extractBudget time.Duration
}

// NewServer constructs a Server with middleware and routes.
func NewServer(extractor Extractor, cfg config.Config, logger *zap.Logger, ready ...Pinger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		extractor: extractor,
		ready:     ready,
		blocked:   hostblock.New(cfg.Fetch.BlockedHosts),
		cfg:       cfg,
		logger:    logger,

		extractBudget: cfg.ExtractBudget(),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout()))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/metadata", func(r chi.Router) {
			r.Get("/", s.getMetadata)
			r.Post("/", s.postMetadata)
			r.Post("/batch", s.postBatch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	for _, p := range s.ready {
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
