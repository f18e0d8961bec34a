package profiles

import (
	"context"
	"strings"
	"testing"

	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/session/memory"
	"pkt.systems/stressor/internal/workload"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default(nil)
	names := reg.Names()
	if len(names) != 2 || names[0] != "keyvalue" || names[1] != "timeseries" {
		t.Fatalf("unexpected profiles %v", names)
	}
}

func TestSchemaIsKeyspaceQualified(t *testing.T) {
	for _, p := range Default(nil).Profiles() {
		for _, ddl := range p.Schema("bench") {
			if !strings.Contains(ddl, "IF NOT EXISTS bench.") {
				t.Fatalf("%s: ddl %q is not qualified", p.Name(), ddl)
			}
		}
	}
}

func roundTrip(t *testing.T, p workload.Profile, args workload.Args) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if err := p.Prepare(ctx, store, "bench"); err != nil {
		t.Fatalf("%s prepare: %v", p.Name(), err)
	}
	runner, err := p.Runner(args, 1)
	if err != nil {
		t.Fatalf("%s runner: %v", p.Name(), err)
	}
	smp := p.Sampler(store, 1, 100)
	for key := range keygen.All(keygen.Sequential("r.0.", 20)) {
		m := runner.NextMutation(key)
		if m.Key != key.String() || m.Statement.Kind != session.KindWrite || m.Statement.Query == "" {
			t.Fatalf("%s: unexpected mutation %+v", p.Name(), m)
		}
		if _, err := store.Execute(ctx, m.Request()); err != nil {
			t.Fatalf("%s write: %v", p.Name(), err)
		}
		smp.MaybePut(m.Key, m.Fields)

		r := runner.NextSelect(key)
		if r.Statement.Kind != session.KindRead || r.Statement.Partition != key.String() {
			t.Fatalf("%s: unexpected read %+v", p.Name(), r)
		}
		res, err := store.Execute(ctx, r.Request())
		if err != nil || len(res.Rows) == 0 {
			t.Fatalf("%s read back: rows=%d err=%v", p.Name(), len(res.Rows), err)
		}
	}
	stats, err := smp.Validate(ctx)
	if err != nil {
		t.Fatalf("%s validate: %v", p.Name(), err)
	}
	if stats.Sampled != 20 || stats.Matched != 20 {
		t.Fatalf("%s: unexpected validation %+v", p.Name(), stats)
	}
}

func TestKeyValueRoundTrip(t *testing.T) {
	args, _ := workload.ParseArgs([]string{"value-size=7"})
	p := NewKeyValue(nil)
	roundTrip(t, p, args)

	runner, _ := p.Runner(args, 5)
	m := runner.NextMutation(keygen.Key{Prefix: "p.", Value: 1})
	if len(m.Fields["value"]) != 7 {
		t.Fatalf("expected 7 character value, got %q", m.Fields["value"])
	}
}

func TestKeyValueRunnerIsSeeded(t *testing.T) {
	p := NewKeyValue(nil)
	a, _ := p.Runner(workload.NewArgs(), 9)
	b, _ := p.Runner(workload.NewArgs(), 9)
	key := keygen.Key{Prefix: "p.", Value: 3}
	for range 5 {
		if a.NextMutation(key).Fields["value"] != b.NextMutation(key).Fields["value"] {
			t.Fatal("same seed must produce the same values")
		}
	}
}

func TestTimeSeriesRoundTrip(t *testing.T) {
	roundTrip(t, NewTimeSeries(nil), workload.NewArgs())
}

func TestTimeSeriesAppendsPoints(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	runner, err := NewTimeSeries(nil).Runner(workload.NewArgs(), 1)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}
	key := keygen.Key{Prefix: "s.", Value: 0}
	for range 3 {
		if _, err := store.Execute(ctx, runner.NextMutation(key).Request()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if store.Rows(timeSeriesTable) != 3 {
		t.Fatalf("expected 3 points, got %d", store.Rows(timeSeriesTable))
	}
}

func TestRunnerRejectsBadArgs(t *testing.T) {
	cases := []struct {
		profile workload.Profile
		pairs   []string
	}{
		{NewKeyValue(nil), []string{"value-size=0"}},
		{NewKeyValue(nil), []string{"value-size=x"}},
		{NewKeyValue(nil), []string{"unknown=1"}},
		{NewTimeSeries(nil), []string{"select-limit=0"}},
		{NewTimeSeries(nil), []string{"value-max=-1"}},
	}
	for _, tc := range cases {
		args, err := workload.ParseArgs(tc.pairs)
		if err != nil {
			t.Fatalf("parse %v: %v", tc.pairs, err)
		}
		if _, err := tc.profile.Runner(args, 1); err == nil {
			t.Fatalf("%s: expected error for %v", tc.profile.Name(), tc.pairs)
		}
	}
}
