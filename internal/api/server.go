package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/config"
	apimw "github.com/aaronlmathis/tsinsight/internal/middleware"
	"github.com/aaronlmathis/tsinsight/internal/source"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
	"github.com/aaronlmathis/tsinsight/internal/timeseries/aggregator"
	"github.com/aaronlmathis/tsinsight/internal/version"
)

// Dependencies are the collaborators the server reads entity data through
type Dependencies struct {
	// Source resolves groups and reads entity series
	Source source.Source
	// Store is the in-process store, when one backs Source or the collector
	Store *timeseries.MemStore
	// Ready reports whether upstream dependencies are usable; nil means always ready
	Ready func(ctx context.Context) error
}

// Server represents the API server
type Server struct {
	logger      *zap.Logger
	config      *config.Config
	router      chi.Router
	deps        Dependencies
	aggregator  *aggregator.Aggregator
	validate    *validator.Validate
	errors      *apimw.ErrorSanitizer
	rateLimiter *apimw.RateLimiter
	etag        *apimw.ETagMiddleware
}

// NewServer creates a new API server
func NewServer(logger *zap.Logger, cfg *config.Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		logger:      logger,
		config:      cfg,
		router:      chi.NewRouter(),
		deps:        deps,
		validate:    newValidator(),
		errors:      apimw.NewErrorSanitizer(logger),
		rateLimiter: apimw.NewRateLimiter(logger, cfg.RateLimits.AnalysisPerMinute, 10),
		etag:        apimw.NewETagMiddleware(logger, "5"),
	}
	if deps.Source != nil {
		s.aggregator = aggregator.NewAggregator(logger, deps.Source, cfg.PolicyTable(), cfg.Aggregator)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Start starts background maintenance for the server
func (s *Server) Start(ctx context.Context) {
	go s.rateLimiter.RunCleanup(ctx, 5*time.Minute, 30*time.Minute)
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(apimw.RequestIDResponseMiddleware)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimw.PrometheusMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(s.config.Server.RequestTimeout))
	s.router.Use(apimw.SecureHeaders)
}

func (s *Server) setupRoutes() {
	mount := func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		r.Get("/readyz", s.handleReady)
		r.Get("/version", s.handleVersion)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]string{
					"message": "tsinsight analysis API v1",
					"status":  "ready",
				})
			})

			// Stateless analysis over caller-supplied arrays
			r.Group(func(r chi.Router) {
				r.Use(s.rateLimiter.Middleware)

				r.Post("/changepoints", s.handleChangepoints)
				r.Post("/outliers", s.handleOutliers)
				r.Post("/aggregate", s.handleAggregate)
			})

			// Analysis over series read from the configured source
			r.Group(func(r chi.Router) {
				r.Use(s.requireSource)
				r.Use(s.rateLimiter.Middleware)
				r.Use(s.etag.Middleware)

				r.Get("/groups/aggregate", s.handleGroupAggregate)
				r.Get("/entities/changepoints", s.handleEntityChangepoints)
				r.Get("/entities/outliers", s.handleEntityOutliers)
			})

			r.Get("/store/health", s.handleStoreHealth)
		})
	}

	basePath := strings.TrimRight(s.config.Server.BasePath, "/")
	if basePath == "" {
		mount(s.router)
		return
	}
	s.router.Route(basePath, mount)
}

// requireSource answers 503 when no entity source is configured
func (s *Server) requireSource(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.aggregator == nil {
			writeJSON(w, http.StatusServiceUnavailable, apimw.ErrorResponse{
				Error:     "No entity source is configured.",
				Status:    http.StatusServiceUnavailable,
				RequestID: middleware.GetReqID(r.Context()),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// handleStoreHealth returns the health of the in-process sample store
func (s *Server) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"store_available":  s.deps.Store != nil,
		"source_available": s.aggregator != nil,
		"source_kind":      s.config.Source.Kind,
	}

	status := http.StatusOK
	if s.deps.Store == nil {
		health["status"] = "unavailable"
		status = http.StatusServiceUnavailable
	} else {
		snapshot := s.deps.Store.GetHealthSnapshot()
		health["store_health"] = snapshot
		health["status"] = snapshot.GetStatus()
		health["config"] = s.config.Store
	}

	writeJSON(w, status, health)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
