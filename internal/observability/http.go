package observability

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// HTTP wraps next with one span and one counter increment per request. The
// route label is the ServeMux pattern, so path parameters such as project
// codes never become label values.
func HTTP(next http.Handler, log *slog.Logger) http.Handler {
	requests := Counter("procurement.http.requests", "HTTP requests by route and status.")
	tracer := Tracer()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracer.Start(r.Context(), r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := r.WithContext(ctx)
		next.ServeHTTP(rec, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		span.SetName(route)
		attrs := []attribute.KeyValue{
			attribute.String("http.route", route),
			attribute.String("http.status_code", strconv.Itoa(rec.status)),
		}
		span.SetAttributes(attrs...)
		requests.Add(ctx, 1, metric.WithAttributes(attrs...))
		log.Debug("http request", "method", r.Method, "route", route, "status", rec.status, "duration", time.Since(start))
	})
}
