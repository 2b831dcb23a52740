package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociosbot_http_requests_total",
			Help: "Total number of HTTP requests, by mux route.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sociosbot_http_request_duration_seconds",
			Help:    "HTTP request latency by mux route. Chat turns wait on the model.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)

	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociosbot_questions_total",
			Help: "Total number of questions answered by the pipeline, by outcome.",
		},
		[]string{"outcome"},
	)
	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sociosbot_pipeline_stage_latency_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	modelRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sociosbot_model_retries_total",
			Help: "Total number of retried model requests.",
		},
	)
	artifactFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sociosbot_artifact_fetches_total",
			Help: "Total number of database artifact downloads, by result.",
		},
		[]string{"result"},
	)
	artifactBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sociosbot_artifact_bytes",
			Help: "Size in bytes of the last downloaded database artifact.",
		},
	)
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sociosbot_chat_sessions",
			Help: "Current number of chat sessions with history.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		questionsTotal,
		stageLatencyMs,
		modelRetriesTotal,
		artifactFetchesTotal,
		artifactBytes,
		activeSessions,
	)
}

// ObserveQuestion records one pipeline run. outcome is "answered" or the
// error kind that stopped the run.
func ObserveQuestion(outcome string) {
	if outcome == "" {
		outcome = "answered"
	}
	questionsTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageLatencyMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func IncrementModelRetry() {
	modelRetriesTotal.Inc()
}

func ObserveArtifactFetch(size int64, err error) {
	if err != nil {
		artifactFetchesTotal.WithLabelValues("failed").Inc()
		return
	}
	artifactFetchesTotal.WithLabelValues("ok").Inc()
	if size < 0 {
		size = 0
	}
	artifactBytes.Set(float64(size))
}

func SetActiveSessions(count int) {
	if count < 0 {
		count = 0
	}
	activeSessions.Set(float64(count))
}
