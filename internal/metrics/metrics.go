package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IncidentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentviz_incidents_processed_total",
		Help: "Total number of incident runs, labelled by outcome (ok, error).",
	}, []string{"outcome"})

	ExplorerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentviz_explorer_requests_total",
		Help: "Transaction history lookups, labelled by source (moralis, mock, cache) and outcome.",
	}, []string{"source", "outcome"})

	RiskLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentviz_risk_lookups_total",
		Help: "Risk screening calls, labelled by client (live, mock, cache) and outcome.",
	}, []string{"client", "outcome"})

	EnrichmentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "incidentviz_enrichment_nodes_total",
		Help: "Nodes written by the enricher, labelled by final risk status.",
	}, []string{"status"})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentviz_report_render_duration_ms",
		Help:    "Time to render and write one incident report in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentviz_run_duration_ms",
		Help:    "End-to-end incident pipeline latency in milliseconds.",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
	})

	GraphNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentviz_graph_nodes",
		Help:    "Number of nodes in each built transaction network.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 11),
	})

	GraphTransfers = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "incidentviz_graph_transfers",
		Help:    "Number of raw transfers in each built transaction network.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	PoolUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "incidentviz_enrichment_queue_utilization_ratio",
		Help: "Current enrichment worker queue utilization (0–1).",
	})
)
