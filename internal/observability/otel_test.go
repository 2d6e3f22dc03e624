package observability

import (
	"context"
	"testing"
)

func TestOtelHeaders(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "x-api-key=abc, broken ,empty=, k2 = v2")
	h := otelHeaders()
	if len(h) != 2 || h["x-api-key"] != "abc" || h["k2"] != "v2" {
		t.Fatalf("headers: got=%v", h)
	}
	t.Setenv("OTEL_EXPORTER_OTLP_HEADERS", "")
	if otelHeaders() != nil {
		t.Fatalf("empty headers: want nil")
	}
}

func TestOtelSampleRatioClamped(t *testing.T) {
	for raw, want := range map[string]float64{"": 0.1, "0.5": 0.5, "-2": 0, "7": 1, "junk": 0.1} {
		t.Setenv("OTEL_SAMPLER_RATIO", raw)
		if got := otelSampleRatio(); got != want {
			t.Fatalf("ratio(%q): want=%v got=%v", raw, want, got)
		}
	}
}

func TestInitOTelDisabledReturnsNoop(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	shutdown := InitOTel(context.Background(), nil, OtelConfig{})
	if shutdown == nil {
		t.Fatalf("shutdown: want non-nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
