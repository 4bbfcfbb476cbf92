// Package metrics holds the Prometheus collectors for ingestion, retrieval
// and tool calls.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// IngestChunks counts chunks by embedding result: embedded or skipped.
	IngestChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_ingest_chunks_total",
			Help: "Chunks processed by ingestion, by result",
		},
		[]string{"result"},
	)

	// IngestRuns counts ingestion runs by outcome: loaded, built or failed.
	IngestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_ingest_runs_total",
			Help: "Ingestion runs, by outcome",
		},
		[]string{"outcome"},
	)

	Retrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_retrievals_total",
			Help: "Knowledge base retrievals, by outcome",
		},
		[]string{"outcome"}, // ok, empty, unavailable, error
	)

	RetrievalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fasal_retrieval_duration_seconds",
			Help:    "Time to embed a query and search the index",
			Buckets: prometheus.DefBuckets,
		},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_tool_calls_total",
			Help: "Agent tool invocations, by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	WeatherRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_weather_requests_total",
			Help: "Requests to the weather provider, by HTTP status or transport error",
		},
		[]string{"status"},
	)

	// AgentReplies counts agent turns by outcome: ok or error.
	AgentReplies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fasal_agent_replies_total",
			Help: "Agent replies, by outcome",
		},
		[]string{"outcome"},
	)

	AgentRounds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fasal_agent_rounds",
			Help:    "Model calls needed to produce one reply",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		},
	)

	registerOnce sync.Once
)

// Outcome label values shared by callers.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
	OutcomeDenied      = "denied"

	RunLoaded = "loaded"
	RunBuilt  = "built"
	RunFailed = "failed"

	ChunkEmbedded = "embedded"
	ChunkSkipped  = "skipped"
)

// MustRegister registers every collector with reg. Only the first call has
// any effect, so commands that start several surfaces can all call it.
func MustRegister(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			IngestChunks,
			IngestRuns,
			Retrievals,
			RetrievalDuration,
			ToolCalls,
			WeatherRequests,
			AgentReplies,
			AgentRounds,
		)
	})
}
