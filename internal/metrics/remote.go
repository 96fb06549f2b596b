// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_llm_requests_total",
		Help: "LLM chat completions by provider and outcome",
	}, []string{"provider", "outcome"})

	llmLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "subforge_llm_request_duration_seconds",
		Help:    "LLM chat completion latency",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"provider"})

	chunkAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_translate_chunk_attempts_total",
		Help: "Translation pass attempts by pass and outcome",
	}, []string{"pass", "outcome"})

	memoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_translate_memo_lookups_total",
		Help: "Translation memo lookups by result",
	}, []string{"result"})

	ledgerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_ledger_requests_total",
		Help: "Ledger HTTP calls by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_ledger_token_refresh_total",
		Help: "Session refreshes by outcome",
	}, []string{"outcome"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "subforge_provider_breaker_state",
		Help: "Provider circuit state: 0 closed, 1 half-open, 2 open",
	}, []string{"provider"})

	breakerOpens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_provider_breaker_opens_total",
		Help: "Provider circuit openings by cause",
	}, []string{"provider", "cause"})

	cloudASRJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "subforge_cloud_asr_jobs_total",
		Help: "Cloud transcription jobs by final outcome",
	}, []string{"outcome"})
)

// RecordLLMRequest counts and times one chat completion.
func RecordLLMRequest(provider, outcome string, d time.Duration) {
	llmRequests.WithLabelValues(provider, outcome).Inc()
	llmLatency.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordChunkAttempt counts one translation pass attempt.
func RecordChunkAttempt(pass, outcome string) {
	chunkAttempts.WithLabelValues(pass, outcome).Inc()
}

// RecordMemoLookup counts a memo hit or miss.
func RecordMemoLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	memoLookups.WithLabelValues(result).Inc()
}

// RecordLedgerRequest counts a ledger call.
func RecordLedgerRequest(endpoint, outcome string) {
	ledgerRequests.WithLabelValues(endpoint, outcome).Inc()
}

// RecordTokenRefresh counts a session refresh.
func RecordTokenRefresh(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordCloudASRJob counts a finished cloud job.
func RecordCloudASRJob(outcome string) {
	cloudASRJobs.WithLabelValues(outcome).Inc()
}

var breakerLevels = map[string]float64{"closed": 0, "half-open": 1, "open": 2}

// SetBreakerState records a provider circuit transition. Unknown states are ignored.
func SetBreakerState(provider, state string) {
	if v, ok := breakerLevels[state]; ok {
		breakerState.WithLabelValues(provider).Set(v)
	}
}

// IncBreakerOpen counts a circuit opening.
func IncBreakerOpen(provider, cause string) {
	breakerOpens.WithLabelValues(provider, cause).Inc()
}
