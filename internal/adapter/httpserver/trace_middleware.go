package httpserver

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// TraceMiddleware starts a server span for each HTTP request.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tr := otel.Tracer("http.server")
		ctx, span := tr.Start(r.Context(), r.Method+" "+r.URL.Path)
		defer span.End()
		span.SetAttributes(
			semconv.HTTPMethodKey.String(r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		if rid := r.Header.Get(requestIDHeader); rid != "" {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
