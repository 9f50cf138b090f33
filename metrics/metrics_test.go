package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Signup()
	m.Verification(ResultSuccess)
	m.Login(ResultFailure)
	m.Refresh(ResultSuccess)
	m.ReuseDetected()
	m.PasswordReset(ResultSuccess)
	m.SessionRevoked()
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Signup()
	m.Signup()
	m.Login(ResultSuccess)
	m.Login(ResultFailure)
	m.ReuseDetected()

	if got := testutil.ToFloat64(m.signups); got != 2 {
		t.Fatalf("expected 2 signups, got %v", got)
	}
	if got := testutil.ToFloat64(m.logins.WithLabelValues(ResultSuccess)); got != 1 {
		t.Fatalf("expected 1 successful login, got %v", got)
	}
	if got := testutil.ToFloat64(m.logins.WithLabelValues(ResultFailure)); got != 1 {
		t.Fatalf("expected 1 failed login, got %v", got)
	}
	if got := testutil.ToFloat64(m.reuseDetected); got != 1 {
		t.Fatalf("expected 1 reuse detection, got %v", got)
	}
}
