package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	postings        *prometheus.CounterVec
	postingDuration *prometheus.HistogramVec
	ledgerRows      prometheus.Counter
	transitions     *prometheus.CounterVec
	incidents       *prometheus.CounterVec
	heldAccounts    prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	postings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_postings_total",
		Help: "Post and reverse attempts by outcome.",
	}, []string{"operation", "outcome"})
	postingDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_ledger_posting_duration_seconds",
		Help:    "Latency of post and reverse including lock waits.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"operation"})
	rows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ledger_rows_appended_total",
		Help: "General ledger rows appended.",
	})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_journal_transitions_total",
		Help: "Journal lifecycle transitions.",
	}, []string{"action", "from", "to"})
	incidents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_ledger_integrity_incidents_total",
		Help: "Ledger integrity incidents by kind.",
	}, []string{"kind"})
	held := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "odyssey_ledger_accounts_held_total",
		Help: "Accounts placed on integrity hold.",
	})
	registry.MustRegister(
		requests, duration,
		postings, postingDuration, rows, transitions, incidents, held,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		postings:        postings,
		postingDuration: postingDuration,
		ledgerRows:      rows,
		transitions:     transitions,
		incidents:       incidents,
		heldAccounts:    held,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObservePosting records one post or reverse attempt.
func (m *Metrics) ObservePosting(operation, outcome string, elapsed time.Duration, rows int) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(operation, outcome).Inc()
	m.postingDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if rows > 0 {
		m.ledgerRows.Add(float64(rows))
	}
}

// ObserveTransition records a journal lifecycle change.
func (m *Metrics) ObserveTransition(action accounting.Action, from, to accounting.EntryStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), string(from), string(to)).Inc()
}

// ObserveIncident records an integrity incident and the accounts it held.
func (m *Metrics) ObserveIncident(kind string, held int) {
	if m == nil {
		return
	}
	m.incidents.WithLabelValues(kind).Inc()
	if held > 0 {
		m.heldAccounts.Add(float64(held))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
