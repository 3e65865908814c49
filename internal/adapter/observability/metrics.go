package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider, operation and status class",
		},
		[]string{"provider", "operation", "status"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AITokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_tokens",
			Help:    "Token counts per AI request by kind (prompt, completion)",
			Buckets: []float64{16, 64, 128, 256, 512, 1024, 2048, 4096},
		},
		[]string{"kind"},
	)

	AnalysesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_analyses_total",
			Help: "Total purchase analyses by outcome (model, fallback)",
		},
		[]string{"outcome"},
	)
	AnalysisAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_analysis_attempts_total",
			Help: "Model call attempts per analysis by attempt number and result",
		},
		[]string{"attempt", "result"},
	)
	EssentialityScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_analysis_essentiality_score",
			Help:    "Distribution of essentialityScore ([0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CredentialQuarantinesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_credential_quarantines_total",
			Help: "Total number of times a credential was quarantined",
		},
	)
	CredentialsQuarantined = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ai_credentials_quarantined",
			Help: "Number of credentials currently in quarantine or on probation",
		},
	)
)

// InitMetrics registers every collector with the default registry. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AITokens)
	prometheus.MustRegister(AnalysesTotal)
	prometheus.MustRegister(AnalysisAttemptsTotal)
	prometheus.MustRegister(EssentialityScoreHistogram)
	prometheus.MustRegister(CredentialQuarantinesTotal)
	prometheus.MustRegister(CredentialsQuarantined)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAnalysis records how an analysis concluded and its score.
func ObserveAnalysis(outcome string, essentialityScore float64) {
	AnalysesTotal.WithLabelValues(outcome).Inc()
	if essentialityScore >= 0 && essentialityScore <= 1 {
		EssentialityScoreHistogram.Observe(essentialityScore)
	}
}

// ObserveAttempt records the result of one model call attempt.
func ObserveAttempt(attempt, result string) {
	AnalysisAttemptsTotal.WithLabelValues(attempt, result).Inc()
}

// ObserveTokens records token counts for one model call.
func ObserveTokens(promptTokens, completionTokens int) {
	if promptTokens > 0 {
		AITokens.WithLabelValues("prompt").Observe(float64(promptTokens))
	}
	if completionTokens > 0 {
		AITokens.WithLabelValues("completion").Observe(float64(completionTokens))
	}
}
