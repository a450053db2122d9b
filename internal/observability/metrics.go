// Package observability exports Prometheus metrics for provider calls.
package observability

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"englishcorner/internal/core"
	"englishcorner/internal/pkg/llmclient"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "englishcorner_provider_requests_total",
			Help: "Provider calls by outcome. Outcome is success or the error kind.",
		},
		[]string{"provider", "stream", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "englishcorner_provider_request_duration_seconds",
			Help:    "Duration of provider calls, including the full stream body.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "stream"},
	)

	inFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "englishcorner_provider_requests_in_flight",
			Help: "Provider calls currently in progress.",
		},
		[]string{"provider"},
	)

	streamChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "englishcorner_stream_chunks_total",
			Help: "Content deltas forwarded from provider streams.",
		},
		[]string{"provider"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "englishcorner_reply_retries_total",
			Help: "Reply attempts retried after a retryable failure.",
		},
		[]string{"provider", "kind"},
	)

	usagePartialWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "englishcorner_usage_partial_write_failures_total",
			Help: "Usage batches that were only partly written to MongoDB.",
		},
	)
)

// NewPrometheusHooks returns client hooks that record call metrics.
func NewPrometheusHooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(ctx context.Context, info llmclient.RequestInfo) context.Context {
			inFlight.WithLabelValues(info.Provider).Inc()
			return ctx
		},
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			stream := strconv.FormatBool(info.Stream)
			inFlight.WithLabelValues(info.Provider).Dec()
			requestsTotal.WithLabelValues(info.Provider, stream, outcome(info.Err)).Inc()
			requestDuration.WithLabelValues(info.Provider, stream).Observe(info.Duration.Seconds())
			if info.Chunks > 0 {
				streamChunks.WithLabelValues(info.Provider).Add(float64(info.Chunks))
			}
		},
	}
}

// RecordRetry counts a retried attempt. Its signature matches the reply retry callback.
func RecordRetry(provider string, _ int, err error) {
	retriesTotal.WithLabelValues(provider, outcome(err)).Inc()
}

// RecordUsagePartialWrite counts a partly written usage batch.
func RecordUsagePartialWrite() {
	usagePartialWrites.Inc()
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := core.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unknown"
}
