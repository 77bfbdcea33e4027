package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/metrics"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// handleGroupAggregate handles GET /api/v1/groups/aggregate
// @Summary Aggregate a group
// @Description Resolve the members of a group entity and combine their series by the metric's policy.
// @Tags Groups
// @Produce json
// @Param entity query string true "Group entity"
// @Param metric query string true "Metric name"
// @Param top_aggregation query string false "Policy override (sum, avg, average, mean)"
// @Success 200 {object} aggregator.Result
// @Failure 400 {object} apimw.ErrorResponse "Missing parameter or bad override"
// @Failure 404 {object} apimw.ErrorResponse "Unknown group"
// @Router /api/v1/groups/aggregate [get]
func (s *Server) handleGroupAggregate(w http.ResponseWriter, r *http.Request) {
	entity, err := requiredParam(r, "entity")
	if err != nil {
		s.errors.Respond(w, r, err)
		return
	}
	metric, err := requiredParam(r, "metric")
	if err != nil {
		s.errors.Respond(w, r, err)
		return
	}

	result, err := s.aggregator.AggregateGroup(r.Context(), entity, metric, queryOptions(r))
	if err != nil {
		s.errors.Respond(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleEntityChangepoints handles GET /api/v1/entities/changepoints
// @Summary Detect changepoints for an entity
// @Description Segment each requested metric series of an entity read from the configured source.
// @Tags Entities
// @Produce json
// @Param entity query string true "Entity"
// @Param metric query string false "Comma-separated metrics (default: all well-known metrics)"
// @Param penalty query number false "Fixed segment penalty"
// @Param since query string false "Only analyze samples newer than this duration (e.g. 30m)"
// @Success 200 {object} EntityAnalysisResponse
// @Failure 404 {object} apimw.ErrorResponse "Entity has none of the metrics"
// @Router /api/v1/entities/changepoints [get]
func (s *Server) handleEntityChangepoints(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cfg := s.config.ChangepointConfig()
	penalty, err := parseFloatParam(r, "penalty")
	if err != nil {
		s.failAnalysis(w, r, engineChangepoint, start, err)
		return
	}
	if penalty != nil {
		cfg = cfg.WithPenalty(*penalty)
	}
	if err := cfg.Validate(); err != nil {
		s.failAnalysis(w, r, engineChangepoint, start, err)
		return
	}

	s.analyzeEntity(w, r, engineChangepoint, start, func(series timeseries.Series) ([]time.Time, error) {
		return changepoint.DetectSeries(series, cfg)
	})
}

// handleEntityOutliers handles GET /api/v1/entities/outliers
// @Summary Detect trend outliers for an entity
// @Description Score each requested metric series of an entity read from the configured source.
// @Tags Entities
// @Produce json
// @Param entity query string true "Entity"
// @Param metric query string false "Comma-separated metrics (default: all well-known metrics)"
// @Param window query integer false "Odd window size"
// @Param threshold query number false "Residual threshold"
// @Param since query string false "Only analyze samples newer than this duration (e.g. 30m)"
// @Success 200 {object} EntityAnalysisResponse
// @Failure 400 {object} apimw.ErrorResponse "Invalid window or threshold"
// @Failure 404 {object} apimw.ErrorResponse "Entity has none of the metrics"
// @Router /api/v1/entities/outliers [get]
func (s *Server) handleEntityOutliers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	cfg := s.config.OutlierConfig()
	window, err := parseIntParam(r, "window")
	if err != nil {
		s.failAnalysis(w, r, engineOutlier, start, err)
		return
	}
	threshold, err := parseFloatParam(r, "threshold")
	if err != nil {
		s.failAnalysis(w, r, engineOutlier, start, err)
		return
	}
	if window != nil {
		cfg.WindowSize = *window
	}
	if threshold != nil {
		cfg.ResidualThreshold = *threshold
	}

	s.analyzeEntity(w, r, engineOutlier, start, func(series timeseries.Series) ([]time.Time, error) {
		return outlier.DetectSeries(series, cfg)
	})
}

// analyzeEntity reads each requested metric of the entity and runs detect on
// it. Metrics the entity lacks are listed as missing; the request fails with
// not found only when every metric is missing.
func (s *Server) analyzeEntity(w http.ResponseWriter, r *http.Request, engine string, start time.Time,
	detect func(timeseries.Series) ([]time.Time, error)) {
	entity, err := requiredParam(r, "entity")
	if err != nil {
		s.failAnalysis(w, r, engine, start, err)
		return
	}
	wanted := parseMetricsParam(r.URL.Query().Get("metric"))
	since, err := parseDurationParam(r, "since")
	if err != nil {
		s.failAnalysis(w, r, engine, start, err)
		return
	}

	runID := uuid.NewString()
	resp := EntityAnalysisResponse{
		Entity:  entity,
		Results: make(map[string][]string, len(wanted)),
	}
	detections := 0
	for _, metric := range wanted {
		series, err := s.deps.Source.Series(r.Context(), entity, metric)
		if errors.Is(err, timeseries.ErrNotFound) {
			resp.Missing = append(resp.Missing, metric)
			continue
		}
		if err != nil {
			s.failAnalysis(w, r, engine, start, fmt.Errorf("failed to read %s/%s: %w", entity, metric, err))
			return
		}
		if since > 0 {
			series = series.Since(time.Now().Add(-since))
		}

		found, err := detect(series)
		if err != nil {
			s.failAnalysis(w, r, engine, start, fmt.Errorf("metric %q: %w", metric, err))
			return
		}
		resp.Results[metric] = timeseries.FormatTimestamps(found)
		detections += len(found)
	}

	if len(resp.Results) == 0 {
		s.failAnalysis(w, r, engine, start,
			fmt.Errorf("%w: entity %q has no series for %v", timeseries.ErrNotFound, entity, wanted))
		return
	}

	metrics.RecordAnalysis(engine, metrics.StatusOK, time.Since(start))
	metrics.RecordDetections(engine, detections)
	s.logger.Debug("Entity analysis completed",
		zap.String("run_id", runID),
		zap.String("engine", engine),
		zap.String("entity", entity),
		zap.Int("metrics", len(resp.Results)),
		zap.Strings("missing", resp.Missing))

	w.Header().Set("X-Run-ID", runID)
	writeJSON(w, http.StatusOK, resp)
}
