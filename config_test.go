package stressor

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Profile != DefaultProfile || cfg.Store != DefaultStore {
		t.Fatalf("unexpected profile/store %q %q", cfg.Profile, cfg.Store)
	}
	if cfg.Threads != DefaultThreads || cfg.Concurrency != DefaultConcurrency || cfg.Partitions != DefaultPartitions {
		t.Fatalf("unexpected worker defaults %+v", cfg)
	}
	if cfg.Generator != DefaultGenerator {
		t.Fatalf("expected generator %q, got %q", DefaultGenerator, cfg.Generator)
	}
	if cfg.RunID == "" || strings.Contains(cfg.RunID, ".") {
		t.Fatalf("expected generated run id, got %q", cfg.RunID)
	}
	if cfg.Seed == 0 {
		t.Fatal("expected seed default")
	}
}

func TestConfigValidateKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Profile:          "timeseries",
		Store:            "cql://db1,db2/bench?consistency=one",
		Threads:          2,
		Iterations:       10,
		Partitions:       5,
		Concurrency:      3,
		RunID:            "r1",
		Generator:        "gaussian",
		Seed:             9,
		ProgressInterval: time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Threads != 2 || cfg.Concurrency != 3 || cfg.Partitions != 5 || cfg.RunID != "r1" || cfg.Seed != 9 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
	if cfg.Generator != "normal" {
		t.Fatalf("expected gaussian to normalise to normal, got %q", cfg.Generator)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"threads", Config{Threads: -1}},
		{"iterations", Config{Iterations: -1}},
		{"populate", Config{Populate: -1}},
		{"read rate low", Config{ReadRate: -0.1}},
		{"read rate high", Config{ReadRate: 1.1}},
		{"partitions", Config{Partitions: -3}},
		{"concurrency", Config{Concurrency: -2}},
		{"run id", Config{RunID: "a.b"}},
		{"generator", Config{Generator: "zipf"}},
		{"sample rate", Config{SampleRate: 2}},
		{"sample capacity", Config{SampleCapacity: -1}},
		{"rate limit", Config{RateLimit: -5}},
		{"inject", Config{InjectFailureRate: 1.5}},
		{"progress", Config{ProgressInterval: -time.Second}},
		{"store scheme", Config{Store: "s3://bucket"}},
		{"profiling metrics", Config{EnableProfilingMetrics: true}},
	}
	for _, tc := range cases {
		cfg := tc.cfg
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		} else if !strings.HasPrefix(err.Error(), "config: ") {
			t.Fatalf("%s: error %q lacks config prefix", tc.name, err)
		}
	}
}
