// Package metrics exposes Prometheus collectors for the marketplace engine and
// its HTTP API.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the marketplace Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrowmarket",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowmarket",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrowmarket",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	offerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowmarket",
			Subsystem: "offers",
			Name:      "events_total",
			Help:      "Offer lifecycle events (created, deleted, sold, expired).",
		},
		[]string{"event"},
	)

	activeOffers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escrowmarket",
			Subsystem: "offers",
			Name:      "active",
			Help:      "Number of offers currently listed.",
		},
	)

	settlements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowmarket",
			Subsystem: "settlement",
			Name:      "settlements_total",
			Help:      "Completed settlements by payment rail.",
		},
		[]string{"rail"},
	)

	feesCollected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowmarket",
			Subsystem: "settlement",
			Name:      "fees_base_units_total",
			Help:      "Marketplace fees collected, in rail base units (approximate).",
		},
		[]string{"rail"},
	)

	rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowmarket",
			Subsystem: "engine",
			Name:      "rejections_total",
			Help:      "Operations rejected and rolled back, by action and error code.",
		},
		[]string{"action", "code"},
	)

	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrowmarket",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of engine operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
		[]string{"action"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		offerEvents,
		activeOffers,
		settlements,
		feesCollected,
		rejections,
		opDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordOfferEvent counts a lifecycle event and updates the active gauge.
func RecordOfferEvent(event string, active int) {
	offerEvents.WithLabelValues(event).Inc()
	activeOffers.Set(float64(active))
}

func RecordSettlement(rail string, fee *big.Int) {
	settlements.WithLabelValues(rail).Inc()
	if fee != nil && fee.Sign() > 0 {
		f, _ := new(big.Float).SetInt(fee).Float64()
		feesCollected.WithLabelValues(rail).Add(f)
	}
}

func RecordOperation(action, code string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	opDuration.WithLabelValues(action).Observe(duration.Seconds())
	if code != "ok" {
		rejections.WithLabelValues(action, code).Inc()
	}
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Websocket upgrades and the metrics endpoint pass through untouched.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
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

// canonicalPath keeps label cardinality bounded: /api/v1/offers/123/price/eth
// becomes /api/v1/offers.
func canonicalPath(raw string) string {
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) >= 3 && parts[0] == "api" {
		return "/" + strings.Join(parts[:3], "/")
	}
	if parts[0] == "" {
		return "/"
	}
	return "/" + parts[0]
}
