// Package metrics bundles Prometheus collectors for both pipeline
// phases on a dedicated registry.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	PagesTotal     *prometheus.CounterVec
	RecordsValid   prometheus.Counter
	RecordsDropped prometheus.Counter
	KeywordsDone   prometheus.Counter
	OperatorPauses prometheus.Counter

	EnrichTotal *prometheus.CounterVec

	CommentsTotal prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jdharvest_pages_total",
			Help: "Pages extracted, labeled by winning extraction source.",
		},
		[]string{"source"},
	)
	recordsValid := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jdharvest_records_valid_total",
			Help: "Records with a usable identifier sent to the sink.",
		},
	)
	recordsDropped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jdharvest_records_dropped_total",
			Help: "Raw items dropped for lacking an identifier.",
		},
	)
	keywordsDone := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jdharvest_keywords_completed_total",
			Help: "Keywords flushed and checkpointed.",
		},
	)
	pauses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jdharvest_operator_pauses_total",
			Help: "Times the run blocked waiting for manual intervention.",
		},
	)
	enrich := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jdharvest_enrich_outcomes_total",
			Help: "Enrichment task outcomes (enriched, passthrough, skipped).",
		},
		[]string{"outcome"},
	)
	comments := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jdharvest_comments_total",
			Help: "Comments appended to the comment output file.",
		},
	)

	registry.MustRegister(pages, recordsValid, recordsDropped, keywordsDone, pauses, enrich, comments)

	return &Metrics{
		Registry:       registry,
		PagesTotal:     pages,
		RecordsValid:   recordsValid,
		RecordsDropped: recordsDropped,
		KeywordsDone:   keywordsDone,
		OperatorPauses: pauses,
		EnrichTotal:    enrich,
		CommentsTotal:  comments,
	}
}

// Serve exposes the registry on addr. Best effort: the run never fails
// because the metrics listener could not bind.
func (m *Metrics) Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Default().Warn("metrics listener stopped", "addr", addr, "error", err)
		}
	}()
}

func (m *Metrics) IncPage(source string) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) AddRecords(valid, dropped int) {
	if m == nil {
		return
	}
	m.RecordsValid.Add(float64(valid))
	m.RecordsDropped.Add(float64(dropped))
}

func (m *Metrics) IncKeyword() {
	if m == nil {
		return
	}
	m.KeywordsDone.Inc()
}

func (m *Metrics) IncPause() {
	if m == nil {
		return
	}
	m.OperatorPauses.Inc()
}

func (m *Metrics) IncEnrich(outcome string) {
	if m == nil {
		return
	}
	m.EnrichTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddComments(n int) {
	if m == nil {
		return
	}
	m.CommentsTotal.Add(float64(n))
}
