// Package metrics exposes Prometheus collectors for protocol activity, the
// background pipeline and the HTTP API.
package metrics

import (
	"bufio"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/insightra/internal/domain"
)

const namespace = "insightra"

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	events        *prometheus.CounterVec
	amounts       *prometheus.CounterVec
	keeperActions *prometheus.CounterVec
	keeperSweep   prometheus.Histogram
	indexedBlock  prometheus.Gauge
	archived      *prometheus.CounterVec
	txs           *prometheus.CounterVec
	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates Metrics with process and Go runtime collectors included.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "events_total",
			Help: "Protocol events observed, by kind.",
		}, []string{"kind"}),
		amounts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "protocol", Name: "amount_total",
			Help: "Sum of event amounts in base units, by kind.",
		}, []string{"kind"}),
		keeperActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keeper", Name: "actions_total",
			Help: "Keeper actions attempted, by action and result.",
		}, []string{"action", "result"}),
		keeperSweep: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "keeper", Name: "sweep_duration_seconds",
			Help:    "Duration of keeper sweeps.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		indexedBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "indexer", Name: "last_block",
			Help: "Highest chain block indexed.",
		}),
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "archive", Name: "records_total",
			Help: "Records exported to the archive, by kind.",
		}, []string{"kind"}),
		txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chain", Name: "transactions_total",
			Help: "Transactions settled, by method and stage.",
		}, []string{"method", "stage"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
	}
	m.Registry.MustRegister(
		m.events, m.amounts, m.keeperActions, m.keeperSweep, m.indexedBlock,
		m.archived, m.txs, m.httpInFlight, m.httpRequests, m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts a protocol event and its amount.
func (m *Metrics) ObserveEvent(e domain.Event) {
	m.events.WithLabelValues(string(e.Kind)).Inc()
	if e.Amount != nil && e.Amount.Sign() > 0 {
		f, _ := new(big.Float).SetInt(e.Amount).Float64()
		m.amounts.WithLabelValues(string(e.Kind)).Add(f)
	}
	if e.Block > 0 {
		m.SetIndexedBlock(e.Block)
	}
}

// KeeperAction counts one keeper attempt.
func (m *Metrics) KeeperAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = string(domain.Category(err))
	}
	m.keeperActions.WithLabelValues(action, result).Inc()
}

// KeeperSweep records how long a sweep took.
func (m *Metrics) KeeperSweep(d time.Duration) { m.keeperSweep.Observe(d.Seconds()) }

// SetIndexedBlock records the latest indexed block.
func (m *Metrics) SetIndexedBlock(n uint64) { m.indexedBlock.Set(float64(n)) }

// Archived counts exported records.
func (m *Metrics) Archived(kind string, n int64) { m.archived.WithLabelValues(kind).Add(float64(n)) }

// TxSettled counts a transaction reaching stage.
func (m *Metrics) TxSettled(method string, stage domain.TxStage) {
	m.txs.WithLabelValues(method, string(stage)).Inc()
}

// Instrument wraps next with request counters and latency histograms.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack lets WebSocket upgrades pass through the instrumented chain.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// CanonicalPath collapses ids and addresses in API paths so label
// cardinality stays bounded: /api/questions/0xab.. becomes
// /api/questions/:id.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	for i, p := range parts {
		if strings.HasPrefix(p, "0x") {
			parts[i] = ":id"
		}
	}
	return "/" + strings.Join(parts, "/")
}
