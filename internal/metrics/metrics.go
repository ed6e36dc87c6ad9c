package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the service's Prometheus collectors and the registry they
// are exposed from.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	predictionsTotal    *prometheus.CounterVec
	retrainsTotal       *prometheus.CounterVec
	retrainDuration     prometheus.Histogram
	modelAccuracy       prometheus.Gauge
	modelLoaded         prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ckd_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		predictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_predictions_total",
			Help: "Predictions by final verdict and whether the rule override fired.",
		}, []string{"prediction", "overridden"}),
		retrainsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ckd_retrains_total",
			Help: "Retrain runs by outcome.",
		}, []string{"status"}),
		retrainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ckd_retrain_duration_seconds",
			Help:    "Wall time of successful retrains.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		modelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ckd_model_accuracy",
			Help: "Held-out accuracy of the active model.",
		}),
		modelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ckd_model_loaded",
			Help: "1 when a model is loaded, 0 when predictions fall back to rules only.",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePrediction(prediction string, overridden bool) {
	m.predictionsTotal.WithLabelValues(prediction, strconv.FormatBool(overridden)).Inc()
}

func (m *Metrics) ObserveRetrain(status string, elapsed time.Duration) {
	m.retrainsTotal.WithLabelValues(status).Inc()
	if status == "completed" {
		m.retrainDuration.Observe(elapsed.Seconds())
	}
}

// SetModel publishes whether a model is loaded and its accuracy.
func (m *Metrics) SetModel(loaded bool, accuracy float64) {
	if !loaded {
		m.modelLoaded.Set(0)
		m.modelAccuracy.Set(0)
		return
	}
	m.modelLoaded.Set(1)
	m.modelAccuracy.Set(accuracy)
}
