package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rcourtman/pveview/internal/logging"
	"github.com/rcourtman/pveview/internal/metrics"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	ErrorMessage string            `json:"error"`
	Code         string            `json:"code,omitempty"`
	StatusCode   int               `json:"status_code"`
	Timestamp    int64             `json:"timestamp"`
	RequestID    string            `json:"request_id,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.ErrorMessage
}

// ErrorHandler tags each request with an id (reusing a client supplied
// X-Request-ID), records request metrics, logs failures and turns handler
// panics into a JSON 500.
func ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" {
			r.URL.Path = "/"
		}
		// Upgraded connections are hijacked and have no status to record.
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}

		ctx, requestID := logging.WithRequestID(r.Context(), r.Header.Get(requestIDHeader))
		r = r.WithContext(ctx)
		w.Header().Set(requestIDHeader, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger := logging.FromContext(ctx)
				logger.Error().
					Interface("panic", p).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("Panic recovered in API handler")
				if !rec.wroteHeader {
					writeErrorResponse(rec, http.StatusInternalServerError, "internal_error", "An unexpected error occurred", nil)
				} else {
					rec.status = http.StatusInternalServerError
				}
			}
			metrics.RecordAPIRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
			if rec.status >= http.StatusBadRequest {
				logger := logging.FromContext(ctx)
				logger.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", rec.status).
					Dur("elapsed", time.Since(start)).
					Msg("Request failed")
			}
		}()

		next.ServeHTTP(rec, r)
	})
}

// writeErrorResponse writes the standard error body. The request id comes
// from the response header set by ErrorHandler.
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	writeJSON(w, statusCode, ErrorResponse{
		ErrorMessage: message,
		Code:         code,
		StatusCode:   statusCode,
		Timestamp:    time.Now().Unix(),
		RequestID:    w.Header().Get(requestIDHeader),
		Details:      details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rec *statusRecorder) WriteHeader(code int) {
	if rec.wroteHeader {
		return
	}
	rec.status = code
	rec.wroteHeader = true
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rec.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
