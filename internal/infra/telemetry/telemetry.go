package telemetry

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/castellan-io/castellan/internal/infra/config"
)

// Provider holds the service metrics.
type Provider struct {
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	loginCounter    *prometheus.CounterVec
	refreshCounter  *prometheus.CounterVec
	accessDecisions *prometheus.CounterVec
}

// Option customizes metric registration.
type Option func(*options)

type options struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers metrics on the supplied registry instead of the
// process-wide default. Tests use this to get an isolated registry.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		if registerer != nil {
			o.registerer = registerer
		}
	}
}

// Attach registers the service metrics and returns a provider handle.
func Attach(cfg *config.AppConfig, opts ...Option) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	factory := promauto.With(o.registerer)

	return &Provider{
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "castellan",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "castellan",
			Name:      "http_requests_in_flight",
			Help:      "HTTP requests currently being served",
		}),
		loginCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "logins_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		refreshCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "token_refreshes_total",
			Help:      "Refresh attempts by outcome",
		}, []string{"outcome"}),
		accessDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "castellan",
			Name:      "access_decisions_total",
			Help:      "Tenant access guard decisions by result",
		}, []string{"allowed"}),
	}, nil
}

// ObserveHTTPRequest records one handled request.
func (p *Provider) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if p == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// HTTPInFlight exposes the in-flight gauge; nil providers return a detached gauge.
func (p *Provider) HTTPInFlight() prometheus.Gauge {
	if p == nil {
		return prometheus.NewGauge(prometheus.GaugeOpts{})
	}
	return p.httpInFlight
}

// HTTPRequests exposes the request counter for assertions.
func (p *Provider) HTTPRequests() *prometheus.CounterVec {
	if p == nil {
		return nil
	}
	return p.httpRequests
}

// HTTPDuration exposes the latency histogram for assertions.
func (p *Provider) HTTPDuration() *prometheus.HistogramVec {
	if p == nil {
		return nil
	}
	return p.httpDuration
}

// RecordLogin counts a login attempt by outcome (success, invalid_credentials,
// locked, inactive).
func (p *Provider) RecordLogin(outcome string) {
	if p == nil {
		return
	}
	p.loginCounter.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a refresh attempt by outcome.
func (p *Provider) RecordRefresh(outcome string) {
	if p == nil {
		return
	}
	p.refreshCounter.WithLabelValues(outcome).Inc()
}

// RecordAccessDecision counts a guard decision.
func (p *Provider) RecordAccessDecision(allowed bool) {
	if p == nil {
		return
	}
	label := "false"
	if allowed {
		label = "true"
	}
	p.accessDecisions.WithLabelValues(label).Inc()
}
