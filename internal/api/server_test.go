package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aaronlmathis/tsinsight/internal/config"
	"github.com/aaronlmathis/tsinsight/internal/timeseries"
)

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func newTestStore() *timeseries.MemStore {
	store := timeseries.NewMemStore(timeseries.DefaultConfig())
	store.SetMembers("shop/web", []string{"shop/web-1", "shop/web-2"})

	for _, p := range []struct {
		sec int
		v   float64
	}{{0, 10}, {10, 20}, {20, 30}} {
		store.Append("shop/web-1", "rps", timeseries.NewPoint(at(p.sec), p.v))
	}
	for _, p := range []struct {
		sec int
		v   float64
	}{{5, 1}, {10, 2}, {30, 4}} {
		store.Append("shop/web-2", "rps", timeseries.NewPoint(at(p.sec), p.v))
	}

	// Ten samples of latency with a level shift half way
	for i := 0; i < 10; i++ {
		v := 1.0
		if i >= 5 {
			v = 8
		}
		store.Append("shop/web-1", "latency_ms", timeseries.NewPoint(at(i*60), v))
	}
	return store
}

func newTestServer(t *testing.T, mutate func(*config.Config, *Dependencies)) *Server {
	t.Helper()

	cfg := config.Default()
	store := newTestStore()
	deps := Dependencies{Source: store, Store: store}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	s, err := NewServer(zaptest.NewLogger(t), cfg, deps)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "192.0.2.10:5555"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tsinsight")

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsDependencyFailure(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		deps.Ready = func(context.Context) error { return errors.New("prometheus unreachable") }
	})

	rec := do(t, s, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "prometheus")
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = ""

	_, err := NewServer(zaptest.NewLogger(t), cfg, Dependencies{})
	assert.Error(t, err)
}

func TestBasePath(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.Server.BasePath = "/insight/"
	})

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/insight/healthz", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestStoreHealth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/store/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, true, body["store_available"])
	assert.Equal(t, "healthy", body["status"])

	s = newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		deps.Store = nil
	})
	rec = do(t, s, http.MethodGet, "/api/v1/store/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSourceRoutesWithoutSource(t *testing.T) {
	s := newTestServer(t, func(_ *config.Config, deps *Dependencies) {
		deps.Source = nil
	})

	rec := do(t, s, http.MethodGet, "/api/v1/groups/aggregate?entity=shop/web&metric=rps", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Stateless analysis still works
	rec = do(t, s, http.MethodPost, "/api/v1/aggregate", AggregateRequest{Metric: "rps", Policy: "sum"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitedAnalysis(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.RateLimits.AnalysisPerMinute = 1
	})

	req := AggregateRequest{Metric: "rps", Policy: "sum"}
	codes := make([]int, 0, 15)
	for i := 0; i < 15; i++ {
		codes = append(codes, do(t, s, http.MethodPost, "/api/v1/aggregate", req).Code)
	}
	assert.Equal(t, http.StatusOK, codes[0])
	assert.Contains(t, codes, http.StatusTooManyRequests)

	// Health endpoints are never limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", nil).Code)
}

func TestUnknownFieldsRejected(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/v1/changepoints",
		`{"timestamps": [], "values": {}, "penalti": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "penalti"), rec.Body.String())
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.Server.MaxBodyBytes = 64
	})

	big := `{"metric": "rps", "policy": "sum", "series": [{"name": "` + strings.Repeat("x", 200) + `"}]}`
	rec := do(t, s, http.MethodPost, "/api/v1/aggregate", big)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
