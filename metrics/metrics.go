// Package metrics exposes Prometheus counters for the auth core. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Metrics struct {
	signups         prometheus.Counter
	verifications   *prometheus.CounterVec
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	reuseDetected   prometheus.Counter
	passwordResets  *prometheus.CounterVec
	sessionsRevoked prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		signups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore", Name: "signups_total",
			Help: "Accounts created through signup.",
		}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore", Name: "email_verifications_total",
			Help: "Email verification attempts by result.",
		}, []string{"result"}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore", Name: "logins_total",
			Help: "Password and federated logins by result.",
		}, []string{"result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore", Name: "refreshes_total",
			Help: "Refresh token exchanges by result.",
		}, []string{"result"}),
		reuseDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore", Name: "refresh_reuse_detected_total",
			Help: "Refresh token replays that triggered account-wide revocation.",
		}),
		passwordResets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "authcore", Name: "password_resets_total",
			Help: "Completed password changes and resets by result.",
		}, []string{"result"}),
		sessionsRevoked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "authcore", Name: "sessions_revoked_total",
			Help: "Sessions revoked explicitly or by security response.",
		}),
	}
}

func (m *Metrics) Signup() {
	if m != nil {
		m.signups.Inc()
	}
}

func (m *Metrics) Verification(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.refreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ReuseDetected() {
	if m != nil {
		m.reuseDetected.Inc()
	}
}

func (m *Metrics) PasswordReset(result string) {
	if m != nil {
		m.passwordResets.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionRevoked() {
	if m != nil {
		m.sessionsRevoked.Inc()
	}
}
