package monitoring

import (
	"context"
	"errors"
	"testing"
)

type pingableConn struct{ err error }

func (p *pingableConn) Ping(context.Context) error { return p.err }

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", status.Status)
	}
}

func TestHealthChecker_DegradedWins(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("slow", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	if got := hc.CheckHealth().Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %q", got)
	}
}

func TestHealthChecker_UnknownStatusIsUnhealthy(t *testing.T) {
	hc := NewHealthChecker("svc", "v1")
	hc.AddCheck("weird", func() CheckResult { return CheckResult{Status: "???"} })
	if got := hc.CheckHealth().Status; got != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", got)
	}
}

func TestPingableHealthCheck(t *testing.T) {
	res := PingableHealthCheck("redis", &pingableConn{})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}
	res = PingableHealthCheck("redis", &pingableConn{err: errors.New("down")})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", res.Status)
	}
}

func TestScoreHealthCheck(t *testing.T) {
	if got := ScoreHealthCheck(80, func() float64 { return 95 })().Status; got != StatusHealthy {
		t.Fatalf("score 95: expected healthy, got %q", got)
	}
	if got := ScoreHealthCheck(80, func() float64 { return 60 })().Status; got != StatusDegraded {
		t.Fatalf("score 60: expected degraded, got %q", got)
	}
	if got := ScoreHealthCheck(80, func() float64 { return 0 })().Status; got != StatusUnhealthy {
		t.Fatalf("score 0: expected unhealthy, got %q", got)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"REALM_PRIMARY": "memory://"})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}
	res = ConfigurationHealthCheck(map[string]string{"REALM_PRIMARY": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", res.Status)
	}
}
