package observability_test

import (
	"GameLedger/internal/observability"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

func TestNewMetricsWith_IsolatedRegistries(t *testing.T) {
	// Two registries must not collide on metric names.
	a := observability.NewMetricsWith(prometheus.NewRegistry())
	b := observability.NewMetricsWith(prometheus.NewRegistry())
	a.CoreOpsApplied.WithLabelValues("mint").Inc()
	b.CoreOpsApplied.WithLabelValues("mint").Inc()
}

func TestNewLoggerTo_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "core", "debug")
	log.Debug().Msg("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["component"] != "core" || line["message"] != "hello" {
		t.Errorf("got %v", line)
	}
}

func TestParseLogLevel(t *testing.T) {
	if observability.ParseLogLevel("warn") != zerolog.WarnLevel {
		t.Error("warn")
	}
	if observability.ParseLogLevel("bogus") != zerolog.InfoLevel {
		t.Error("bogus should default to info")
	}
}

func TestReadinessHandler(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetSequenceSource(func() int64 { return 42 })

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d", rec.Code)
	}

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after ready: got %d", rec.Code)
	}
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["sequence"] != float64(42) {
		t.Errorf("sequence: got %v", body["sequence"])
	}
}
