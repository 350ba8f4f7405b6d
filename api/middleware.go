package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/codes"

	"github.com/amelia-run/amelia/telemetry"
)

// responseRecorder wraps http.ResponseWriter to capture the status code
// tracing needs after the handler returns.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *responseRecorder) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseRecorder) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// traceAndLog wraps every request in a span and an access-log line, using
// chi's route pattern (not the raw, high-cardinality path) as the span and
// metric label.
func traceAndLog(tracer telemetry.Tracer, metrics telemetry.Metrics, log telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := tracer.Start(r.Context(), "http.request")
			r = r.WithContext(ctx)

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			pattern := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				pattern = rctx.RoutePattern()
			}
			duration := time.Since(start)

			span.AddEvent("http.response", "status", rec.status, "route", pattern)
			if rec.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()

			metrics.RecordTimer("amelia_http_request_duration", duration,
				"method", r.Method, "route", pattern)
			log.Info(ctx, "http request",
				"method", r.Method, "route", pattern, "status", rec.status,
				"duration_ms", duration.Milliseconds())
		})
	}
}
