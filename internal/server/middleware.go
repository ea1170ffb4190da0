package server

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"tryon/internal/api"
	"tryon/internal/logging"
	"tryon/internal/services"
)

const clientIDHeader = "X-Client-ID"

// MessageRateLimited is returned when a client exceeds the /api budget.
const MessageRateLimited = "Too many requests from this IP, please try again later."

// requestContext copies the chi request id and the client identity into the
// services context keys so downstream logs carry them.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := middleware.GetReqID(ctx); id != "" {
			ctx = services.WithRequestID(ctx, id)
		}
		ctx = services.WithClientID(ctx, clientID(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request: METHOD path - status - duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		logger := logging.WithContext(r.Context(), s.logger)
		logger.Info(fmt.Sprintf("%s %s - %d - %dms", r.Method, r.URL.Path, status, elapsed.Milliseconds()),
			logging.String(logging.FieldEventType, "http_request"),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.Int64("duration_ms", elapsed.Milliseconds()),
			logging.Int("bytes", ww.BytesWritten()),
		)
	})
}

// recoverer turns a handler panic into the JSON 500 envelope.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			err := fmt.Errorf("panic: %v", rec)
			logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "handler panic", "handler_panic",
				logging.Error(err),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "inspect the stack trace"),
				logging.String(logging.FieldImpact, "request failed with 500"),
			)
			s.writeJSON(w, http.StatusInternalServerError, api.NewError(messageInternal, s.detail(err)))
		}()
		next.ServeHTTP(w, r)
	})
}

// bodyLimit caps request bodies. limit <= 0 disables the cap.
func bodyLimit(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimiter() func(http.Handler) http.Handler {
	window := s.cfg.RateLimitWindow()
	if window <= 0 || s.cfg.RateLimit.MaxRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.RateLimit.MaxRequests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "rate limit exceeded", "rate_limited",
				logging.String(logging.FieldErrorHint, "client should back off until the window resets"),
				logging.String(logging.FieldImpact, "request rejected with 429"),
			)
			s.writeJSON(w, http.StatusTooManyRequests, api.NewError(MessageRateLimited, ""))
		}),
	)
}

// clientID returns the caller's X-Client-ID, falling back to the remote IP.
func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(clientIDHeader)); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// explicitClientID returns the X-Client-ID header only.
func explicitClientID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(clientIDHeader))
}
