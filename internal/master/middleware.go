package master

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/metrics"
)

type contextKey string

const (
	userContextKey    contextKey = "amon.user"
	traceIDContextKey contextKey = "amon.traceId"
)

// requestUser returns the user resolved by the /pub middleware. Handlers
// under /pub may assume it is present.
func requestUser(r *http.Request) *account.User {
	user, _ := r.Context().Value(userContextKey).(*account.User)
	return user
}

// LoggingMiddleware attaches a trace ID and logs each request.
func LoggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.NewString()
			}
			ctx := context.WithValue(r.Context(), traceIDContextKey, traceID)
			r = r.WithContext(ctx)
			w.Header().Set("X-Trace-ID", traceID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			log.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", wrapped.statusCode).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				WithField("trace_id", traceID).
				Info("request handled")
		})
	}
}

// RecoveryMiddleware recovers from handler panics.
func RecoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithField("panic", fmt.Sprintf("%v", err)).
						WithField("stack", string(debug.Stack())).
						WithField("path", r.URL.Path).
						Error("panic recovered")
					httputil.WriteError(w, httputil.InternalError(fmt.Errorf("%v", err), ""))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware records request counts and latency.
func MetricsMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.IncrementInFlight()
			defer metrics.DecrementInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			metrics.RecordHTTPRequest(r.Method, path, wrapped.statusCode, time.Since(start))
		})
	}
}

// APIVersionMiddleware echoes the served version and rejects requests
// pinned to an unsupported major version.
func APIVersionMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Api-Version", APIVersion)
			if v := r.Header.Get("X-Api-Version"); v != "" && !strings.HasPrefix(v, "1.") {
				httputil.WriteError(w, httputil.InvalidArgumentError("unsupported API version %q", v))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userMiddleware resolves the :user path component and attaches the user
// record to the request context. Downstream handlers may assume it.
func (s *Server) userMiddleware() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := mux.Vars(r)["user"]
			user, err := s.users.Resolve(r.Context(), userID)
			if err != nil {
				httputil.WriteError(w, httputil.InternalError(err, ""))
				return
			}
			if user == nil {
				httputil.WriteError(w, httputil.ResourceNotFoundError("no such user: %q", userID))
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// responseWriter captures the status code for logs and metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}
