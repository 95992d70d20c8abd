// Package metrics holds the Prometheus collectors for auth outcomes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeDuplicate    = "duplicate"
	OutcomeUnknownUser  = "unknown_user"
	OutcomeBadPassword  = "bad_password"
	OutcomeExpired      = "expired"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

type Metrics struct {
	RegisterTotal        *prometheus.CounterVec
	LoginTotal           *prometheus.CounterVec
	TokenValidationTotal *prometheus.CounterVec
	HashDuration         *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates the collectors on a private registry together with the
// standard Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers the collectors on reg and serves them from g.
func NewWithRegistry(reg prometheus.Registerer, g prometheus.Gatherer) *Metrics {
	m := &Metrics{
		RegisterTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "music_auth_register_total",
			Help: "Total number of registration attempts by outcome",
		}, []string{"outcome"}),
		LoginTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "music_auth_login_total",
			Help: "Total number of login attempts by outcome",
		}, []string{"outcome"}),
		TokenValidationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "music_auth_token_validation_total",
			Help: "Total number of bearer token validations by outcome",
		}, []string{"outcome"}),
		HashDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "music_auth_hash_duration_seconds",
			Help:    "Histogram of password derivation and verification latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"op"}),
		gatherer: g,
	}
	reg.MustRegister(m.RegisterTotal, m.LoginTotal, m.TokenValidationTotal, m.HashDuration)
	return m
}

func (m *Metrics) Register(outcome string) {
	m.RegisterTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Login(outcome string) {
	m.LoginTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) TokenValidation(outcome string) {
	m.TokenValidationTotal.WithLabelValues(outcome).Inc()
}

// ObserveHash matches user.HashObserver.
func (m *Metrics) ObserveHash(op string, d time.Duration) {
	m.HashDuration.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the exposition format for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
