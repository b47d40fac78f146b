package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Brownie44l1/exoplanet-api/internal/prediction"
)

// Service owns a private registry so tests can create as many as they like.
type Service struct {
	registry        *prometheus.Registry
	predictions     *prometheus.CounterVec
	errors          *prometheus.CounterVec
	batchRows       prometheus.Histogram
	requestDuration *prometheus.HistogramVec
}

func New() *Service {
	s := &Service{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exoplanet_predictions_total",
			Help: "Scored records by canonical classification.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exoplanet_prediction_errors_total",
			Help: "Failed prediction requests by error kind.",
		}, []string{"kind"}),
		batchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exoplanet_batch_rows",
			Help:    "Rows per submitted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exoplanet_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "path", "status"}),
	}
	s.registry.MustRegister(
		s.predictions,
		s.errors,
		s.batchRows,
		s.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range prediction.Classifications {
		s.predictions.WithLabelValues(string(c))
	}
	return s
}

// ObservePrediction implements prediction.Observer.
func (s *Service) ObservePrediction(c prediction.Classification) {
	s.predictions.WithLabelValues(string(c)).Inc()
}

func (s *Service) ObserveError(kind string) {
	s.errors.WithLabelValues(kind).Inc()
}

func (s *Service) ObserveBatch(rows int) {
	s.batchRows.Observe(float64(rows))
}

func (s *Service) ObserveRequest(method, path string, status int, elapsed time.Duration) {
	s.requestDuration.WithLabelValues(method, path, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in Prometheus exposition format.
func (s *Service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
