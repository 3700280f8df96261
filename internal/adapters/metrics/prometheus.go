package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sibyl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sibyl_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"model"})

	EmbeddingBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sibyl_embedding_batch_duration_seconds",
		Help:    "Embedding batch duration",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	IngestTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_ingest_tasks_total",
		Help: "Ingestion tasks by outcome",
	}, []string{"type", "outcome"})

	QACacheProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sibyl_qa_cache_probes_total",
		Help: "QA cache lookups by result",
	}, []string{"result"})

	AgentSteps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sibyl_agent_steps",
		Help:    "Reasoning steps taken per agent run",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
	})

	BusQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sibyl_bus_queue_depth",
		Help: "Tasks waiting in the in-process bus queue",
	})
)
