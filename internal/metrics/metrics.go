package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 业务与 HTTP 指标
type Recorder interface {
	IncActivation(outcome string)
	IncCheck(outcome string)
	IncCodeCollision()
	IncAdminOperation(op string)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop 不输出任何指标
type Noop struct{}

func (Noop) IncActivation(string) {}
func (Noop) IncCheck(string) {}
func (Noop) IncCodeCollision() {}
func (Noop) IncAdminOperation(string) {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom 基于 Prometheus 的实现
type Prom struct {
	activations    *prometheus.CounterVec
	checks         *prometheus.CounterVec
	codeCollisions prometheus.Counter
	adminOps       *prometheus.CounterVec
	requests       *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// NewProm 创建指标并注册到 reg
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	p := &Prom{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "License activation attempts by outcome",
		}, []string{"outcome"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "License re-checks by outcome",
		}, []string{"outcome"}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_collisions_total",
			Help:      "Generated license codes rejected as duplicates",
		}),
		adminOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_operations_total",
			Help:      "Administrative license operations",
		}, []string{"op"}),
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
	}
	reg.MustRegister(p.activations, p.checks, p.codeCollisions, p.adminOps, p.requests, p.latency)
	return p
}

func (p *Prom) IncActivation(outcome string) {
	p.activations.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncCheck(outcome string) {
	p.checks.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncCodeCollision() {
	p.codeCollisions.Inc()
}

func (p *Prom) IncAdminOperation(op string) {
	p.adminOps.WithLabelValues(op).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler /metrics 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
