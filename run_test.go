package stressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"pkt.systems/stressor/internal/metrics"
	"pkt.systems/stressor/internal/workload"
)

func TestRunKeyValueEndToEnd(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "report.yaml")
	cfg := Config{
		Store:          "mem://bench?latency=100us&jitter=200us",
		Threads:        3,
		Populate:       100,
		Iterations:     500,
		ReadRate:       0.3,
		Partitions:     100,
		Concurrency:    10,
		RunID:          "e2e",
		Seed:           7,
		SampleRate:     1,
		SampleCapacity: 1000,
		ReportPath:     reportPath,
	}
	rep, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Populate == nil || rep.Populate.Mutations != 300 || rep.Populate.Failed != 0 {
		t.Fatalf("unexpected populate %+v", rep.Populate)
	}
	if rep.Run.Completed() != 1500 || rep.Run.Failed != 0 || !rep.Run.Exhausted {
		t.Fatalf("unexpected run %+v", rep.Run)
	}
	if rep.Counts.Inserts != 300 || rep.Counts.Mutations+rep.Counts.Selects != 1500 {
		t.Fatalf("unexpected counts %+v", rep.Counts)
	}
	if rep.Validation.Sampled == 0 || rep.Validation.Missing != 0 || rep.Validation.Errors != 0 {
		t.Fatalf("unexpected validation %+v", rep.Validation)
	}
	if rep.Validation.Matched+rep.Validation.Mismatched != rep.Validation.Sampled {
		t.Fatalf("validation does not add up: %+v", rep.Validation)
	}
	if len(rep.Latencies) != 3 {
		t.Fatalf("expected insert, mutation and select latencies, got %+v", rep.Latencies)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(data, &decoded); err != nil || decoded["run_id"] != "e2e" {
		t.Fatalf("unexpected report file: %v %v", decoded, err)
	}
}

func TestRunWithInjectedFailures(t *testing.T) {
	cfg := Config{
		Store:             "mem://",
		Profile:           "timeseries",
		Threads:           1,
		Iterations:        1000,
		ReadRate:          0.3,
		Partitions:        50,
		Concurrency:       50,
		RunID:             "faults",
		Seed:              11,
		InjectFailureRate: 0.05,
		SampleRate:        1,
		SampleCapacity:    2000,
	}
	rep, err := Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Run.Completed() != 1000 {
		t.Fatalf("expected 1000 completions, got %+v", rep.Run)
	}
	if rep.Run.Failed < 20 || rep.Run.Failed > 90 {
		t.Fatalf("expected ~50 failures, got %d", rep.Run.Failed)
	}
	if uint64(rep.Validation.Sampled) > rep.Run.Mutations {
		t.Fatalf("sampled %d exceeds successful mutations %d", rep.Validation.Sampled, rep.Run.Mutations)
	}
	// Validation reads go through the same failure injector.
	if rep.Validation.Matched+rep.Validation.Errors != rep.Validation.Sampled {
		t.Fatalf("unexpected validation %+v", rep.Validation)
	}
}

func TestRunCancelledReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	cfg := Config{
		Store:       "mem://?latency=1ms",
		Threads:     2,
		Iterations:  10_000_000,
		Concurrency: 4,
		RunID:       "cancel",
		Seed:        1,
	}
	rep, err := Run(ctx, cfg, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep == nil || rep.Interrupted == "" || rep.Run.Exhausted {
		t.Fatalf("expected interrupted partial report, got %+v", rep)
	}
	if rep.Run.Completed() != rep.Run.Submitted {
		t.Fatalf("in-flight requests were not drained: %+v", rep.Run)
	}
}

func TestRunRejectsUnknownProfile(t *testing.T) {
	_, err := Run(context.Background(), Config{Profile: "nope"}, nil)
	if !errors.Is(err, workload.ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
}

func TestRunRejectsBadProfileArgs(t *testing.T) {
	if _, err := Run(context.Background(), Config{ProfileArgs: []string{"value-size=0"}}, nil); err == nil {
		t.Fatal("expected profile argument error")
	}
	if _, err := Run(context.Background(), Config{ArgsFile: filepath.Join(t.TempDir(), "missing.properties")}, nil); err == nil {
		t.Fatal("expected args file error")
	}
}

func TestProgressReporterStops(t *testing.T) {
	rec := metrics.New(nil)
	stop := startProgress(context.Background(), time.Millisecond, rec, 10, nil)
	rec.Success(context.Background(), metrics.KindMutation, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	stop()
	startProgress(context.Background(), 0, rec, 0, nil)()
}
