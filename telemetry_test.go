package stressor

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"pkt.systems/stressor/internal/metrics"
)

func TestResolveOTLPTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want otlpTarget
	}{
		{"collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317", insecure: true}},
		{"collector:5555", otlpTarget{protocol: "grpc", endpoint: "collector:5555", insecure: true}},
		{"grpcs://collector", otlpTarget{protocol: "grpc", endpoint: "collector:4317"}},
		{"http://collector/v1/traces", otlpTarget{protocol: "http", endpoint: "collector:4318", path: "/v1/traces", insecure: true}},
		{"https://collector:443", otlpTarget{protocol: "http", endpoint: "collector:443"}},
	}
	for _, tc := range cases {
		got, err := resolveOTLPTarget(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %+v want %+v", tc.raw, got, tc.want)
		}
	}
	for _, raw := range []string{"", "ftp://collector", "http://"} {
		if _, err := resolveOTLPTarget(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := setupTelemetry(context.Background(), Config{}, nil)
	if err != nil || tel != nil {
		t.Fatalf("expected nil telemetry, got %v %v", tel, err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil shutdown: %v", err)
	}
}

func TestSetupTelemetryServesMetrics(t *testing.T) {
	ctx := context.Background()
	tel, err := setupTelemetry(ctx, Config{MetricsListen: "127.0.0.1:0", RunID: "r"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer tel.Shutdown(ctx)
	if len(tel.servers) != 1 {
		t.Fatalf("expected metrics server, got %d servers", len(tel.servers))
	}
	if tel.meterProvider == nil {
		t.Fatal("expected meter provider")
	}
	rec := metrics.New(nil)
	rec.Success(ctx, metrics.KindMutation, 0)
	body := fetch(t, "http://"+tel.addrs["telemetry.metrics"]+"/metrics")
	if !strings.Contains(body, "stressor_mutations") {
		t.Fatalf("metrics output lacks stressor_mutations:\n%s", body)
	}
}

func fetch(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}
