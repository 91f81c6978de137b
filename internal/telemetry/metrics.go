// Package telemetry wires the Prometheus client into krace's hot paths:
// records decoded, HB queries issued and their cache hit ratio, races
// reported, and soft-anomaly counts. Each run is tagged with a UUID
// (RunID), which cmd/kracer logs when analysis starts; it is not a label
// on any metric.
package telemetry

import (
	"bytes"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Metrics is the set of counters/gauges one Analyzer run reports through.
// It satisfies internal/interfaces.MetricsObserver.
type Metrics struct {
	RunID uuid.UUID

	registry *prometheus.Registry

	recordsDecoded *prometheus.CounterVec
	hbQueries      prometheus.Counter
	hbHits         prometheus.Counter
	races          prometheus.Counter
	softAnomalies  *prometheus.CounterVec
	pendingRaces   prometheus.Counter
}

// New returns a fresh Metrics instance registered to its own registry, not
// the global default one, so multiple analyzer instances in one process
// never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		RunID:    uuid.New(),
		registry: reg,
		recordsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krace_records_decoded_total",
			Help: "Ledger records decoded, by record code.",
		}, []string{"code"}),
		hbQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krace_hb_queries_total",
			Help: "Happens-before reachability queries issued.",
		}),
		hbHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krace_hb_cache_hits_total",
			Help: "Happens-before queries served from the memo cache.",
		}),
		races: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krace_races_total",
			Help: "Data races reported.",
		}),
		softAnomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "krace_soft_anomalies_total",
			Help: "Non-fatal anomalies logged, by kind.",
		}, []string{"kind"}),
		pendingRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "krace_pending_races_total",
			Help: "Candidate pairs suppressed by an overlapping seqlock transaction.",
		}),
	}
	reg.MustRegister(m.recordsDecoded, m.hbQueries, m.hbHits, m.races, m.softAnomalies, m.pendingRaces)
	return m
}

// ObserveRecordDecoded increments the per-code decode counter.
func (m *Metrics) ObserveRecordDecoded(code string) {
	m.recordsDecoded.WithLabelValues(code).Inc()
}

// ObserveHBQuery increments the HB query counter, and the hit counter if
// the query was served from the memo cache.
func (m *Metrics) ObserveHBQuery(hit bool) {
	m.hbQueries.Inc()
	if hit {
		m.hbHits.Inc()
	}
}

// AddHBQueries bulk-records happens-before cache statistics; the race
// engine accumulates them internally and hands over the totals once at the
// end of a run instead of paying a counter increment on the hot path.
func (m *Metrics) AddHBQueries(queries, hits int64) {
	m.hbQueries.Add(float64(queries))
	m.hbHits.Add(float64(hits))
}

// ObserveRace increments the races-reported counter.
func (m *Metrics) ObserveRace() { m.races.Inc() }

// ObservePendingRace increments the seqlock-suppressed counter.
func (m *Metrics) ObservePendingRace() { m.pendingRaces.Inc() }

// ObserveSoftAnomaly increments the soft-anomaly counter for kind.
func (m *Metrics) ObserveSoftAnomaly(kind string) {
	m.softAnomalies.WithLabelValues(kind).Inc()
}

// WriteTextTo serves this run's metrics over HTTP to w in the Prometheus
// exposition format. The metrics.prom artifact is written from Gather.
func (m *Metrics) WriteTextTo(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// Handler returns an http.Handler serving this run's metrics, for the
// optional loopback listener enabled by -metrics-addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gather renders the current metric families as Prometheus text exposition
// format, for writing metrics.prom directly without an HTTP round trip.
func (m *Metrics) Gather() ([]byte, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
