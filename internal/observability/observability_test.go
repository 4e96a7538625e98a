package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// ============================================================================
// Logging
// ============================================================================

func TestParseLogLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"DEBUG":   zerolog.DebugLevel,
		" warn ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestLogger_ComponentAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "projection", zerolog.WarnLevel)

	logger.Info().Msg("dropped")
	logger.Warn().Int64("sequence", 7).Msg("gap")

	var line map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "projection" || line["message"] != "gap" {
		t.Errorf("unexpected log line: %v", line)
	}
	if line["sequence"] != float64(7) {
		t.Errorf("sequence = %v", line["sequence"])
	}
}

// ============================================================================
// Health
// ============================================================================

func TestHealth_ReadinessFollowsChecks(t *testing.T) {
	h := NewHealthChecker()

	probe := func() int {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if code := probe(); code != http.StatusServiceUnavailable {
		t.Fatalf("before SetReady: code = %d", code)
	}

	h.SetReady(true)
	if code := probe(); code != http.StatusOK {
		t.Fatalf("ready: code = %d", code)
	}

	natsDown := errors.New("nats disconnected")
	h.AddCheck("nats", func() error { return natsDown })
	if h.IsReady() {
		t.Error("IsReady should be false with a failing check")
	}
	if code := probe(); code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: code = %d", code)
	}

	natsDown = nil
	if !h.IsReady() {
		t.Error("IsReady should recover once the check passes")
	}
}

func TestHealth_Liveness(t *testing.T) {
	h := NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

// ============================================================================
// Metrics
// ============================================================================

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CoreCallsApplied.WithLabelValues("Deposit").Inc()
	m.CoreCallsApplied.WithLabelValues("Deposit").Inc()
	if got := testutil.ToFloat64(m.CoreCallsApplied.WithLabelValues("Deposit")); got != 2 {
		t.Errorf("applied = %v, want 2", got)
	}

	defer func() {
		if recover() == nil {
			t.Error("registering the same metrics twice should panic")
		}
	}()
	NewMetrics(reg)
}

func TestSetAmount(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_amount"})

	SetAmount(g, uint256.NewInt(1_500))
	if got := testutil.ToFloat64(g); got != 1500 {
		t.Errorf("gauge = %v", got)
	}

	SetAmount(g, nil)
	if got := testutil.ToFloat64(g); got != 0 {
		t.Errorf("nil amount: gauge = %v", got)
	}
}
