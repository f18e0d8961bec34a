package workload

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"pkt.systems/stressor/internal/session"
)

func countReads(readRate float64, trials int) int {
	rng := rand.New(rand.NewPCG(1, 2))
	reads := 0
	for range trials {
		if ChooseRead(rng, readRate) {
			reads++
		}
	}
	return reads
}

func TestChooseReadExtremes(t *testing.T) {
	if got := countReads(0, 1000); got != 0 {
		t.Fatalf("readRate 0 produced %d reads", got)
	}
	if got := countReads(1, 1000); got != 1000 {
		t.Fatalf("readRate 1 produced %d reads", got)
	}
}

func TestChooseReadDistribution(t *testing.T) {
	const trials = 100000
	got := countReads(0.5, trials)
	if got < 48000 || got > 52000 {
		t.Fatalf("readRate 0.5 produced %d reads out of %d", got, trials)
	}
	got = countReads(0.3, trials)
	if got < 28000 || got > 32000 {
		t.Fatalf("readRate 0.3 produced %d reads out of %d", got, trials)
	}
}

func TestReadThreshold(t *testing.T) {
	cases := map[float64]int{0: 0, 0.25: 25, 0.3: 30, 1: 100, 1.5: 100, -1: 0}
	for rate, want := range cases {
		if got := ReadThreshold(rate); got != want {
			t.Fatalf("ReadThreshold(%v)=%d want %d", rate, got, want)
		}
	}
}

func TestOperationsAreExhaustive(t *testing.T) {
	ops := []Operation{
		Mutation{Statement: session.Statement{Kind: session.KindWrite}, Key: "k", Fields: Fields{"v": "1"}},
		Read{Statement: session.Statement{Kind: session.KindRead}},
	}
	for _, op := range ops {
		switch v := op.(type) {
		case Mutation:
			if v.Request().Kind != session.KindWrite {
				t.Fatal("mutation must carry a write")
			}
		case Read:
			if v.Request().Kind != session.KindRead {
				t.Fatal("read must carry a read")
			}
		default:
			t.Fatalf("unexpected operation %T", op)
		}
	}
}

func TestValidationStats(t *testing.T) {
	var total ValidationStats
	if !total.OK() || total.MatchRatio() != 1 {
		t.Fatal("empty stats must be OK")
	}
	total.Add(ValidationStats{Sampled: 4, Matched: 3, Missing: 1})
	total.Add(ValidationStats{Sampled: 4, Matched: 4})
	if total.Sampled != 8 || total.Matched != 7 || total.Missing != 1 {
		t.Fatalf("unexpected totals %+v", total)
	}
	if total.OK() {
		t.Fatal("missing entries must fail validation")
	}
	if total.MatchRatio() != 7.0/8.0 {
		t.Fatalf("unexpected ratio %v", total.MatchRatio())
	}
}

func TestArgs(t *testing.T) {
	args, err := ParseArgs([]string{"value-size=64", "ratio=0.25", "name=x", "value-size=128"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if size, err := args.Int("value-size", 32); err != nil || size != 128 {
		t.Fatalf("value-size=%d err=%v", size, err)
	}
	if ratio, err := args.Float("ratio", 1); err != nil || ratio != 0.25 {
		t.Fatalf("ratio=%v err=%v", ratio, err)
	}
	if def, err := args.Int("missing", 7); err != nil || def != 7 {
		t.Fatalf("default=%d err=%v", def, err)
	}
	if args.String("name", "") != "x" {
		t.Fatal("expected name=x")
	}
	if _, err := ParseArgs([]string{"bad"}); err == nil {
		t.Fatal("expected error for pair without '='")
	}
	bad, _ := ParseArgs([]string{"value-size=big"})
	if _, err := bad.Int("value-size", 1); err == nil {
		t.Fatal("expected error for malformed int")
	}
	unknown := args.Unknown([]ArgSpec{{Name: "value-size"}, {Name: "ratio"}})
	if len(unknown) != 1 || unknown[0] != "name" {
		t.Fatalf("unexpected unknown args %v", unknown)
	}
	var zero Args
	if zero.String("a", "d") != "d" || len(zero.Keys()) != 0 {
		t.Fatal("zero Args must return defaults")
	}
}

func TestLoadArgsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.properties")
	if err := os.WriteFile(path, []byte("# sizes\nvalue-size = 16\nselect-limit=5\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	args, err := LoadArgsFile(path, []string{"select-limit=9"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if size, _ := args.Int("value-size", 0); size != 16 {
		t.Fatalf("value-size=%d", size)
	}
	if limit, _ := args.Int("select-limit", 0); limit != 9 {
		t.Fatalf("flag pair must override file, got %d", limit)
	}
}

type stubProfile struct{ name string }

func (s stubProfile) Name() string                      { return s.name }
func (stubProfile) Description() string                 { return "stub" }
func (stubProfile) Args() []ArgSpec                     { return nil }
func (stubProfile) Schema(string) []string              { return []string{"CREATE TABLE t"} }
func (stubProfile) Runner(Args, uint64) (Runner, error) { return nil, nil }
func (stubProfile) Sampler(session.Session, float64, int) Sampler {
	return nil
}
func (s stubProfile) Prepare(ctx context.Context, sess session.Session, keyspace string) error {
	return ApplySchema(ctx, sess, "t", s.Schema(keyspace))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"b", "a"} {
		if err := reg.Register(stubProfile{name: name}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	if err := reg.Register(stubProfile{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := reg.Register(stubProfile{}); err == nil {
		t.Fatal("expected unnamed profile to fail")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected names %v", names)
	}
	if _, err := reg.Lookup("zzz"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("expected ErrUnknownProfile, got %v", err)
	}
	p, err := reg.Lookup("b")
	if err != nil || p.Name() != "b" {
		t.Fatalf("lookup b: %v", err)
	}
	if len(reg.Profiles()) != 2 {
		t.Fatal("expected two profiles")
	}
}
