package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authenticator.
type Metrics struct {
	LoginAttempts   prometheus.Counter
	LoginSuccesses  prometheus.Counter
	LoginFailures   *prometheus.CounterVec
	UsersRegistered prometheus.Counter
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics with a specific registerer. Tests use this
// with a fresh registry to avoid duplicate registration panics.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoginAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "leihsldap_login_attempts_total",
			Help: "Total number of login attempts received",
		}),
		LoginSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "leihsldap_login_successes_total",
			Help: "Total number of logins that produced a success token",
		}),
		LoginFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leihsldap_login_failures_total",
			Help: "Total number of failed logins by failure reason",
		}, []string{"reason"}),
		UsersRegistered: factory.NewCounter(prometheus.CounterOpts{
			Name: "leihsldap_users_registered_total",
			Help: "Total number of users registered with the downstream system",
		}),
	}
}

// IncrementLoginFailure counts one failed login for the given reason.
func (m *Metrics) IncrementLoginFailure(reason string) {
	m.LoginFailures.WithLabelValues(reason).Inc()
}
