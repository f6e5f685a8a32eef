package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/medora-health/clinicore/pkg/contextkeys"
	"github.com/medora-health/clinicore/pkg/httputil"
	"github.com/medora-health/clinicore/pkg/observability"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

// RequestID assigns every request an id, reusing a well-formed inbound one
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), requestID)))
	})
}

// RequestLogger stores a request-scoped logger in the context and logs every
// finished request
func RequestLogger(logger logrus.FieldLogger, metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := observability.WithTraceContext(r.Context(), logger).WithFields(logrus.Fields{
				"request_id": contextkeys.GetRequestID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
			})
			rec := httputil.NewStatusRecorder(w)

			next.ServeHTTP(rec, r.WithContext(contextkeys.WithLogger(r.Context(), entry)))

			duration := time.Since(start)
			metrics.RecordHTTPRequest(r.Method, routeName(r), rec.Status, duration)

			fields := logrus.Fields{
				"status":      rec.Status,
				"duration_ms": duration.Milliseconds(),
			}
			switch {
			case rec.Status >= http.StatusInternalServerError:
				entry.WithFields(fields).Error("request failed")
			case rec.Status >= http.StatusBadRequest:
				entry.WithFields(fields).Info("request rejected")
			default:
				entry.WithFields(fields).Debug("request completed")
			}
		})
	}
}

// Recovery turns a handler panic into a 500 response
func Recovery(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := httputil.NewStatusRecorder(w)
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					observability.LoggerFromContext(r.Context(), logger).WithFields(logrus.Fields{
						"panic": p,
						"stack": string(debug.Stack()),
					}).Error("PANIC recovered in HTTP handler")
					if !rec.WroteHeader() {
						httputil.WriteErrorMessage(rec, apperr.KindInternal, "internal server error")
					}
				}
			}()
			next.ServeHTTP(rec, r)
		})
	}
}

// routeName returns the matched mux route template to keep metric labels bounded
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
