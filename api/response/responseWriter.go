package response

import (
	"log/slog"
	"net/http"
	"time"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	bodySize   int
}

func NewResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

// WriteHeader to capture status code
func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write to count the body size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bodySize += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriter) GetStatusCode() int {
	return rw.statusCode
}

func (rw *responseWriter) GetBodySize() int {
	return rw.bodySize
}

// AccessLog logs one line per request once the handler returns.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recw := NewResponseWriter(w)
		next.ServeHTTP(recw, req)

		level := slog.LevelDebug
		if recw.GetStatusCode() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.Log(req.Context(), level, "http request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", recw.GetStatusCode(),
			"size", recw.GetBodySize(),
			"duration", time.Since(start),
		)
	})
}
