package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecording(t *testing.T) {
	m := New(nil)

	m.ObserveRequest("weather", "completed", 250*time.Millisecond)
	m.ObserveRequest("weather", "failed", time.Second)
	m.IncStep("weather")
	m.IncStep("weather")
	m.IncToolCall("weather", true)
	m.IncToolCall("weather", false)
	m.IncChunk("text-delta")
	m.AddTokens("agentscope", 10, 0)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"completed requests", testutil.ToFloat64(m.requests.WithLabelValues("weather", "completed")), 1},
		{"failed requests", testutil.ToFloat64(m.requests.WithLabelValues("weather", "failed")), 1},
		{"steps", testutil.ToFloat64(m.steps.WithLabelValues("weather")), 2},
		{"tool ok", testutil.ToFloat64(m.toolCalls.WithLabelValues("weather", "ok")), 1},
		{"tool error", testutil.ToFloat64(m.toolCalls.WithLabelValues("weather", "error")), 1},
		{"chunks", testutil.ToFloat64(m.chunks.WithLabelValues("text-delta")), 1},
		{"input tokens", testutil.ToFloat64(m.tokens.WithLabelValues("agentscope", "input")), 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(m.tokens); n != 1 {
		t.Errorf("zero token counts should not create series, got %d", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("plain", "completed", time.Second)
	m.IncStep("plain")
	m.IncToolCall("weather", true)
	m.IncChunk("finish")
	m.AddTokens("x", 1, 1)
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.IncStep("plain")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `friday_steps_total{route="plain"} 1`) {
		t.Errorf("metrics output missing steps counter:\n%s", body)
	}
}
