package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aaronlmathis/tsinsight/internal/analysis/changepoint"
	"github.com/aaronlmathis/tsinsight/internal/analysis/merge"
	"github.com/aaronlmathis/tsinsight/internal/analysis/outlier"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

// ChangepointRequest is the body of POST /api/v1/changepoints
type ChangepointRequest struct {
	Timestamps []string             `json:"timestamps" validate:"required,dive,required"`
	Values     map[string][]float64 `json:"values" validate:"required"`
	Penalty    *float64             `json:"penalty,omitempty" validate:"omitempty,gte=0"`
}

// ChangepointResponse lists changepoint timestamps per property
type ChangepointResponse struct {
	RunID        string          `json:"runId"`
	Changepoints changepoint.Set `json:"changepoints"`
}

// OutlierRequest is the body of POST /api/v1/outliers
type OutlierRequest struct {
	Timestamps        []string             `json:"timestamps" validate:"required,dive,required"`
	Values            map[string][]float64 `json:"values" validate:"required"`
	WindowSize        *int                 `json:"windowSize,omitempty" validate:"omitempty,gte=3"`
	ResidualThreshold *float64             `json:"residualThreshold,omitempty" validate:"omitempty,gt=0"`
}

// OutlierResponse lists outlier timestamps per property that has any
type OutlierResponse struct {
	RunID    string      `json:"runId"`
	Outliers outlier.Set `json:"outliers"`
}

// SeriesInput is one member series of an aggregate request
type SeriesInput struct {
	Name       string    `json:"name"`
	Timestamps []string  `json:"timestamps"`
	Values     []float64 `json:"values"`
}

// AggregateRequest is the body of POST /api/v1/aggregate
type AggregateRequest struct {
	Metric string        `json:"metric" validate:"required"`
	Policy string        `json:"policy" validate:"required"`
	Series []SeriesInput `json:"series" validate:"dive"`
}

// AggregateResponse is the merged series of an aggregate request
type AggregateResponse struct {
	RunID  string `json:"runId"`
	Policy string `json:"policy"`
	merge.Result
}

// EntityAnalysisResponse lists per-metric detections for one entity. The run
// id travels in the X-Run-ID header so identical results keep one ETag.
type EntityAnalysisResponse struct {
	Entity  string              `json:"entity"`
	Results map[string][]string `json:"results"`
	// Missing lists requested metrics the entity has no series for
	Missing []string `json:"missing,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeRequest reads a bounded JSON body into dst and validates it. Every
// failure wraps timeseries.ErrInvalidArgument.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: request body exceeds %d bytes", timeseries.ErrInvalidArgument, maxErr.Limit)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", timeseries.ErrInvalidArgument, err)
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", timeseries.ErrInvalidArgument, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", timeseries.ErrInvalidArgument, err)
	}
	return nil
}

// toSeries converts an aggregate request member into a sorted series
func (in SeriesInput) toSeries() (timeseries.Series, error) {
	ts, err := timeseries.ParseTimestamps(in.Timestamps)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("series %q: %w", in.Name, err)
	}
	return timeseries.SeriesFromArrays(in.Name, ts, in.Values)
}
