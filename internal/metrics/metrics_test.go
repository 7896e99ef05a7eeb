package metrics

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/psantana5/vrepper/internal/remoteapi"
)

func TestObserveCall(t *testing.T) {
	m := New()
	m.ObserveCall("simxGetObjectHandle", remoteapi.ReturnOK, time.Millisecond)
	m.ObserveCall("simxGetObjectHandle", remoteapi.ReturnOK, time.Millisecond)
	m.ObserveCall("simxGetObjectHandle", remoteapi.ReturnRemoteError, time.Millisecond)

	if got := testutil.ToFloat64(m.calls.WithLabelValues("simxGetObjectHandle", "ok")); got != 2 {
		t.Errorf("ok calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("simxGetObjectHandle", "remote_error")); got != 1 {
		t.Errorf("failed calls = %v, want 1", got)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	for i := 0; i < 16; i++ {
		m.ConnectAttempt()
	}
	m.Step()
	m.SetProcessStats(12.5, 2048)
	m.SetExitCode(3)

	if got := testutil.ToFloat64(m.connectAttempts); got != 16 {
		t.Errorf("connect attempts = %v, want 16", got)
	}
	if got := testutil.ToFloat64(m.steps); got != 1 {
		t.Errorf("steps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.simRSS); got != 2048 {
		t.Errorf("rss = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(m.simExitCode); got != 3 {
		t.Errorf("exit code = %v, want 3", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCall("simxStart", remoteapi.ReturnOK, time.Millisecond)
	m.ConnectAttempt()
	m.Step()
	m.SetProcessStats(1, 1)
	m.SetExitCode(0)
	if err := m.WriteText(&bytes.Buffer{}); err != nil {
		t.Errorf("WriteText on nil: %v", err)
	}
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestWriteTextAndHandler(t *testing.T) {
	m := New()
	m.Step()

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	if !strings.Contains(buf.String(), "vrepper_simulation_steps_total 1") {
		t.Errorf("missing steps counter in dump:\n%s", buf.String())
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "vrepper_connect_attempts_total") {
		t.Errorf("handler output missing counters:\n%s", rec.Body.String())
	}
}
