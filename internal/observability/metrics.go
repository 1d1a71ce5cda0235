package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"component", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simbridge",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "method", "path", "status"},
	)
	ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "ticks_total",
			Help:      "Client ticks by outcome.",
		},
		[]string{"result"},
	)
	exchangeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "exchange_duration_seconds",
			Help:      "Data frame round trip time in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
	negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "negotiations_total",
			Help:      "Schema negotiation attempts by result.",
		},
		[]string{"result"},
	)
	resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "resyncs_total",
			Help:      "Renegotiations started from the streaming state.",
		},
		[]string{"reason"},
	)
	skippedFields = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "codec",
			Name:      "skipped_fields_total",
			Help:      "Buffer fields left untouched during encode/decode.",
		},
		[]string{"direction", "reason"},
	)
	apiCallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "api_callbacks_total",
			Help:      "API callback exchanges by result.",
		},
		[]string{"result"},
	)
	streaming = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "simbridge",
			Subsystem: "bridge",
			Name:      "streaming",
			Help:      "1 while the client is in the streaming state.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			ticks, exchangeDuration, negotiations, resyncs,
			skippedFields, apiCallbacks, streaming,
		)
	})
}

func RecordHTTPRequest(component, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(component, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordTick(result string) {
	RegisterMetrics()
	ticks.WithLabelValues(result).Inc()
}

func RecordExchange(duration time.Duration) {
	RegisterMetrics()
	exchangeDuration.Observe(duration.Seconds())
}

func RecordNegotiation(result string) {
	RegisterMetrics()
	negotiations.WithLabelValues(result).Inc()
}

func RecordResync(reason string) {
	RegisterMetrics()
	resyncs.WithLabelValues(reason).Inc()
}

func RecordSkippedField(direction, reason string) {
	RegisterMetrics()
	skippedFields.WithLabelValues(direction, reason).Inc()
}

func RecordAPICallbacks(result string) {
	RegisterMetrics()
	apiCallbacks.WithLabelValues(result).Inc()
}

func SetStreaming(on bool) {
	RegisterMetrics()
	if on {
		streaming.Set(1)
		return
	}
	streaming.Set(0)
}
