// Package metrics exposes Prometheus instrumentation for the relay server.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "signrelay"

// Sign outcomes.
const (
	OutcomeSigned   = "signed"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeNotFound = "tool_not_found"
	OutcomeError    = "error"
)

// Metrics records relay server activity.
type Metrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
	AddTransferBytes(direction string, n int64)
	IncSign(outcome string)
	ObserveSignDuration(durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) ObserveRequest(string, string, string, float64) {}
func (Noop) AddTransferBytes(string, int64)                 {}
func (Noop) IncSign(string)                                 {}
func (Noop) ObserveSignDuration(float64)                    {}

// Prom implements Metrics backed by Prometheus collectors registered on
// the default registerer.
type Prom struct {
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	bytes        *prometheus.CounterVec
	signs        *prometheus.CounterVec
	signDuration prometheus.Histogram
	once         sync.Once
}

// NewProm creates and registers the relay collectors.
func NewProm(namespace string) *Prom {
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Archive bytes received (upload) or served (download)",
		}, []string{"direction"}),
		signs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signs_total",
			Help:      "Signing tool invocations by outcome",
		}, []string{"outcome"}),
		signDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sign_duration_seconds",
			Help:      "Signing tool wall-clock duration",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.requests, p.latency, p.bytes, p.signs, p.signDuration)
	})
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) AddTransferBytes(direction string, n int64) {
	if n > 0 {
		p.bytes.WithLabelValues(direction).Add(float64(n))
	}
}

func (p *Prom) IncSign(outcome string) {
	p.signs.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveSignDuration(durationSeconds float64) {
	p.signDuration.Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
