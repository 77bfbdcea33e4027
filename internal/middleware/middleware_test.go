package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

func TestSanitizePath(t *testing.T) {
	tests := map[string]string{
		"/healthz":                       "/healthz",
		"/metrics/":                      "/metrics",
		"/api/v1/changepoints":           "/api/v1/changepoints",
		"/api/v1/groups/aggregate/extra": "/api/v1/groups/*",
		"/favicon.ico":                   "other",
		"/":                              "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizePath(in), in)
	}
}

func TestRouteLabelUsesPattern(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Get("/api/v1/things/{id}", func(w http.ResponseWriter, req *http.Request) {
		got = routeLabel(req)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/things/42?x=1", nil))
	assert.Equal(t, "/api/v1/things/{id}", got)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(fmt.Errorf("bad window: %w", timeseries.ErrInvalidArgument)))
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("group x: %w", timeseries.ErrNotFound)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}

func TestErrorSanitizerRespond(t *testing.T) {
	es := NewErrorSanitizer(zaptest.NewLogger(t))

	t.Run("ClientErrorKeepsMessage", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/outliers", nil)
		es.Respond(rec, req, fmt.Errorf("%w: window size must be odd, got 4", timeseries.ErrInvalidArgument))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, http.StatusBadRequest, body.Status)
		assert.Contains(t, body.Error, "window size must be odd")
	})

	t.Run("ServerErrorIsGeneric", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/groups/aggregate", nil)
		es.Respond(rec, req, errors.New("failed to query samples: sql: database is locked"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sql")
	})

	t.Run("SensitiveClientErrorIsGeneric", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		es.Respond(rec, req, fmt.Errorf("prometheus said no: %w", timeseries.ErrNotFound))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "The requested resource was not found.")
	})
}

func TestETagMiddleware(t *testing.T) {
	etag := NewETagMiddleware(zaptest.NewLogger(t), "15")
	handler := etag.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"values":[1,2,3]}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/groups/aggregate", nil))
	require.Equal(t, http.StatusOK, first.Code)
	tag := first.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.Equal(t, "private, max-age=15", first.Header().Get("Cache-Control"))
	assert.Equal(t, `{"values":[1,2,3]}`, first.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/groups/aggregate", nil)
	req.Header.Set("If-None-Match", `W/"nope", `+tag)
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())
}

func TestETagMiddlewareSkipsErrorsAndPosts(t *testing.T) {
	etag := NewETagMiddleware(zaptest.NewLogger(t), "15")
	handler := etag.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("ETag"))
	assert.Equal(t, "missing", rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Empty(t, rec.Header().Get("ETag"))
}

func TestRequestIDResponseMiddleware(t *testing.T) {
	handler := chimw.RequestID(RequestIDResponseMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPrometheusMiddlewarePassesThrough(t *testing.T) {
	handler := PrometheusMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
