package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ETagMiddleware adds content ETags to successful GET responses and answers
// matching If-None-Match requests with 304.
type ETagMiddleware struct {
	logger *zap.Logger
	maxAge string
}

// NewETagMiddleware creates a new ETag middleware. maxAge is the
// Cache-Control max-age in seconds.
func NewETagMiddleware(logger *zap.Logger, maxAge string) *ETagMiddleware {
	return &ETagMiddleware{
		logger: logger,
		maxAge: maxAge,
	}
}

// Middleware returns the ETag middleware handler
func (em *ETagMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &etagRecorder{header: make(http.Header), status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		for k, v := range recorder.header {
			w.Header()[k] = v
		}

		if recorder.status != http.StatusOK || recorder.body.Len() == 0 {
			w.WriteHeader(recorder.status)
			_, _ = w.Write(recorder.body.Bytes())
			return
		}

		etag := calculateETag(recorder.body.Bytes())
		w.Header().Set("ETag", `"`+etag+`"`)
		w.Header().Set("Cache-Control", "private, max-age="+em.maxAge)

		if clientETag := r.Header.Get("If-None-Match"); clientETag != "" && etagMatches(clientETag, etag) {
			em.logger.Debug("ETag matched, serving 304",
				zap.String("path", r.URL.Path),
				zap.String("etag", etag),
				zap.String("request_id", middleware.GetReqID(r.Context())))
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(recorder.body.Bytes())
	})
}

// calculateETag hashes the response body
func calculateETag(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:16]
}

// etagMatches checks a possibly comma-separated If-None-Match list
func etagMatches(clientETag, serverETag string) bool {
	for _, candidate := range strings.Split(clientETag, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == serverETag {
			return true
		}
	}
	return false
}

// etagRecorder buffers the response so the ETag header can precede the body
type etagRecorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *etagRecorder) Header() http.Header {
	return r.header
}

func (r *etagRecorder) WriteHeader(statusCode int) {
	if r.wroteHeader {
		return
	}
	r.status = statusCode
	r.wroteHeader = true
}

func (r *etagRecorder) Write(data []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(data)
}
