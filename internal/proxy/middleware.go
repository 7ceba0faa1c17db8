package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type contextKey string

const ctxKeyRequestID contextKey = "request_id"

// requestIDMiddleware stamps every request with a correlation id (the
// caller's X-Request-ID, or a fresh UUID), echoed in the response header
// and carried in the request context for the proxy's log lines. The id
// is not sent in the upstream CoAP request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware emits one line per request with remote_addr, method,
// url, and final status (spec §4.5).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"remote_addr", r.RemoteAddr,
			"method", r.Method,
			"url", r.URL.String(),
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// contentNegotiationMiddleware enforces spec §4.4's "bodies are JSON;
// content negotiation accepts only application/json. Non-matching
// Accept is answered NotAcceptable" at the proxy boundary, before a
// round trip to the CoAP server is spent on a request that cannot be
// satisfied.
func (s *Server) contentNegotiationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" && accept != "application/json" {
			writeError(w, http.StatusNotAcceptable, "only application/json is served")
			return
		}
		if r.ContentLength > 0 {
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				writeError(w, http.StatusUnsupportedMediaType, "only application/json request bodies are accepted")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
