package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_http_requests_total",
			Help: "Total API requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aem_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aem_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	GraphRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_graph_requests_total",
			Help: "Outbound graph requests by edge and result",
		}, []string{"edge", "result"},
	)
	GraphLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aem_graph_request_duration_seconds",
		Help:    "Outbound graph request latency seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"edge"})

	Attributions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_attributions_total",
			Help: "Events offered to invocations by outcome",
		}, []string{"result"},
	)
	ConfigRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_config_refreshes_total",
			Help: "Configuration refresh attempts by result",
		}, []string{"result"},
	)
	AggregationReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_aggregation_reports_total",
			Help: "Aggregated conversion reports by result",
		}, []string{"result"},
	)
	Invocations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aem_invocations",
		Help: "Invocations currently held by the reporter",
	})
	Configurations = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aem_configurations",
		Help: "Configurations held per catalog mode",
	}, []string{"mode"})
	PersistenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aem_persistence_errors_total",
			Help: "Failed state loads and saves",
		}, []string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight,
		GraphRequests, GraphLatency,
		Attributions, ConfigRefreshes, AggregationReports,
		Invocations, Configurations, PersistenceErrors,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
