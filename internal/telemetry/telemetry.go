// Package telemetry holds the Prometheus collectors for the indexing and
// retrieval pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vitrine_index_documents",
		Help: "Number of documents currently in the vector index.",
	})
	documentsEmbedded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vitrine_documents_embedded_total",
		Help: "Total documents sent through the embedding service.",
	})
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitrine_index_loads_total",
		Help: "Index load passes by action and outcome.",
	}, []string{"action", "outcome"})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vitrine_search_duration_seconds",
		Help:    "End-to-end semantic search latency, embedding included.",
		Buckets: prometheus.DefBuckets,
	})
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitrine_searches_total",
		Help: "Search requests by outcome.",
	}, []string{"outcome"})
	generationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vitrine_generations_total",
		Help: "Generation history writes by category.",
	}, []string{"category"})
)

func SetIndexSize(n int) { indexSize.Set(float64(n)) }

func AddDocumentsEmbedded(n int) { documentsEmbedded.Add(float64(n)) }

func ObserveLoad(action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	loadsTotal.WithLabelValues(action, outcome).Inc()
}

func ObserveSearch(seconds float64, outcome string) {
	searchDuration.Observe(seconds)
	searchesTotal.WithLabelValues(outcome).Inc()
}

func ObserveGeneration(category string) {
	generationsTotal.WithLabelValues(category).Inc()
}
