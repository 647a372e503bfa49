package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the backbone's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "astra",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "astra",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	routedRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "gateway",
			Name:      "routed_requests_total",
			Help:      "Requests routed per destination service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "gateway",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected by the rate limiter, per scope kind.",
		},
		[]string{"scope"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "breaker",
			Name:      "transitions_total",
			Help:      "Circuit breaker state transitions per service.",
		},
		[]string{"service", "from", "to"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "eventlog",
			Name:      "published_total",
			Help:      "Events appended to the log per topic.",
		},
		[]string{"topic"},
	)

	redeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "astra",
			Subsystem: "eventlog",
			Name:      "redeliveries_total",
			Help:      "Visibility-timeout redeliveries per consumer group.",
		},
		[]string{"group"},
	)

	consumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "astra",
			Subsystem: "eventlog",
			Name:      "consumer_lag",
			Help:      "Unacknowledged events per consumer group.",
		},
		[]string{"group"},
	)

	registryInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "astra",
			Subsystem: "registry",
			Name:      "healthy_instances",
			Help:      "Healthy registered instances per service.",
		},
		[]string{"service"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		routedRequests,
		rateLimitRejections,
		breakerTransitions,
		eventsPublished,
		redeliveries,
		consumerLag,
		registryInstances,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordRoutedRequest records one routed request and its outcome code.
func RecordRoutedRequest(service, outcome string) {
	if service == "" {
		service = "unknown"
	}
	routedRequests.WithLabelValues(service, outcome).Inc()
}

// RecordRateLimitRejection records a quota rejection for a scope kind
// ("caller" or "service").
func RecordRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// RecordBreakerTransition records a circuit breaker state change.
func RecordBreakerTransition(service, from, to string) {
	breakerTransitions.WithLabelValues(service, from, to).Inc()
}

// RecordEventPublished records an append to the log.
func RecordEventPublished(topic string) {
	eventsPublished.WithLabelValues(topic).Inc()
}

// RecordRedelivery records a visibility-timeout redelivery.
func RecordRedelivery(group string) {
	redeliveries.WithLabelValues(group).Inc()
}

// SetConsumerLag updates the lag gauge for a group.
func SetConsumerLag(group string, lag int64) {
	consumerLag.WithLabelValues(group).Set(float64(lag))
}

// SetHealthyInstances updates the healthy instance gauge for a service.
func SetHealthyInstances(service string, count int) {
	registryInstances.WithLabelValues(service).Set(float64(count))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses dynamic path segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "health", "metrics", "registry":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		return "/" + parts[0] + "/" + parts[1]
	default:
		// Domain routes: keep the domain, drop the rest.
		return "/" + parts[0]
	}
}
