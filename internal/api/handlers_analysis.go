package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/metrics"
	apimw "github.com/aaronlmathis/tsinsight/internal/middleware"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

const (
	engineChangepoint = "changepoint"
	engineOutlier     = "outlier"
	engineMerge       = "merge"
)

// handleChangepoints handles POST /api/v1/changepoints
// @Summary Detect changepoints
// @Description Segment every property of a timestamped batch and return the segment start timestamps.
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body ChangepointRequest true "Batch to segment"
// @Success 200 {object} ChangepointResponse
// @Failure 400 {object} apimw.ErrorResponse "Invalid batch or penalty"
// @Router /api/v1/changepoints [post]
func (s *Server) handleChangepoints(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req ChangepointRequest
	if err := s.decodeRequest(w, r, &req); err != nil {
		s.failAnalysis(w, r, engineChangepoint, start, err)
		return
	}

	cfg := s.config.ChangepointConfig()
	if req.Penalty != nil {
		cfg = cfg.WithPenalty(*req.Penalty)
	}

	batch, err := timeseries.ParseBatch(req.Timestamps, req.Values)
	if err != nil {
		s.failAnalysis(w, r, engineChangepoint, start, err)
		return
	}

	set, err := changepoint.Detect(batch, cfg)
	if err != nil {
		s.failAnalysis(w, r, engineChangepoint, start, err)
		return
	}

	metrics.RecordAnalysis(engineChangepoint, metrics.StatusOK, time.Since(start))
	metrics.RecordDetections(engineChangepoint, countDetections(set))

	runID := uuid.NewString()
	s.logger.Debug("Changepoint run completed",
		zap.String("run_id", runID),
		zap.Int("samples", batch.Len()),
		zap.Int("properties", len(set)),
		zap.Duration("duration", time.Since(start)))

	writeJSON(w, http.StatusOK, ChangepointResponse{RunID: runID, Changepoints: set})
}

// handleOutliers handles POST /api/v1/outliers
// @Summary Detect trend outliers
// @Description Score every property against a centered sliding-window linear trend.
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body OutlierRequest true "Batch to score"
// @Success 200 {object} OutlierResponse
// @Failure 400 {object} apimw.ErrorResponse "Invalid batch, window or threshold"
// @Router /api/v1/outliers [post]
func (s *Server) handleOutliers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req OutlierRequest
	if err := s.decodeRequest(w, r, &req); err != nil {
		s.failAnalysis(w, r, engineOutlier, start, err)
		return
	}

	cfg := s.config.OutlierConfig()
	if req.WindowSize != nil {
		cfg.WindowSize = *req.WindowSize
	}
	if req.ResidualThreshold != nil {
		cfg.ResidualThreshold = *req.ResidualThreshold
	}

	batch, err := timeseries.ParseBatch(req.Timestamps, req.Values)
	if err != nil {
		s.failAnalysis(w, r, engineOutlier, start, err)
		return
	}

	set, err := outlier.Detect(batch, cfg)
	if err != nil {
		s.failAnalysis(w, r, engineOutlier, start, err)
		return
	}

	metrics.RecordAnalysis(engineOutlier, metrics.StatusOK, time.Since(start))
	metrics.RecordDetections(engineOutlier, countDetections(set))

	writeJSON(w, http.StatusOK, OutlierResponse{RunID: uuid.NewString(), Outliers: set})
}

// handleAggregate handles POST /api/v1/aggregate
// @Summary Merge series
// @Description Align caller-supplied series on their union timeline and combine them by sum or average.
// @Tags Analysis
// @Accept json
// @Produce json
// @Param request body AggregateRequest true "Series to merge"
// @Success 200 {object} AggregateResponse
// @Failure 400 {object} apimw.ErrorResponse "Invalid series or policy"
// @Router /api/v1/aggregate [post]
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AggregateRequest
	if err := s.decodeRequest(w, r, &req); err != nil {
		s.failAnalysis(w, r, engineMerge, start, err)
		return
	}

	policy, err := merge.ParsePolicy(req.Policy)
	if err != nil {
		s.failAnalysis(w, r, engineMerge, start, err)
		return
	}

	series := make([]timeseries.Series, 0, len(req.Series))
	for i, in := range req.Series {
		if in.Name == "" {
			in.Name = fmt.Sprintf("series-%d", i)
		}
		sr, err := in.toSeries()
		if err != nil {
			s.failAnalysis(w, r, engineMerge, start, err)
			return
		}
		series = append(series, sr)
	}

	result := merge.Aggregate(series, req.Metric, policy)
	metrics.RecordAnalysis(engineMerge, metrics.StatusOK, time.Since(start))

	writeJSON(w, http.StatusOK, AggregateResponse{
		RunID:  uuid.NewString(),
		Policy: policy.String(),
		Result: result,
	})
}

// failAnalysis records a failed run and writes the error reply
func (s *Server) failAnalysis(w http.ResponseWriter, r *http.Request, engine string, start time.Time, err error) {
	status := metrics.StatusError
	if apimw.StatusFor(err) < http.StatusInternalServerError {
		status = metrics.StatusInvalidInput
	}
	metrics.RecordAnalysis(engine, status, time.Since(start))
	s.errors.Respond(w, r, err)
}

func countDetections(set map[string][]string) int {
	n := 0
	for _, ts := range set {
		n += len(ts)
	}
	return n
}
