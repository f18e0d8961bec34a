package workload

import (
	"context"
	"fmt"

	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/session"
)

// Profile describes a workload: its schema, how to build operations and how to
// validate what was written.
type Profile interface {
	Name() string
	Description() string
	// Args lists the arguments the profile understands.
	Args() []ArgSpec
	// Schema returns the DDL statements creating the profile's tables inside
	// keyspace.
	Schema(keyspace string) []string
	// Prepare creates the profile's tables.
	Prepare(ctx context.Context, sess session.Session, keyspace string) error
	// Runner builds a per-worker operation factory. seed makes generated
	// values reproducible.
	Runner(args Args, seed uint64) (Runner, error)
	// Sampler builds a bounded sampler that re-reads sampled mutations
	// through sess.
	Sampler(sess session.Session, rate float64, capacity int) Sampler
}

// Runner builds operations for one worker. It is never shared between
// goroutines.
type Runner interface {
	NextMutation(key keygen.Key) Mutation
	NextSelect(key keygen.Key) Read
}

// Sampler keeps a bounded sample of successful mutations and validates them
// after the run. Implementations are safe for concurrent use.
type Sampler interface {
	MaybePut(key string, fields Fields)
	Size() int
	Validate(ctx context.Context) (ValidationStats, error)
}

// ArgSpec documents one profile argument.
type ArgSpec struct {
	Name        string
	Default     string
	Description string
}

// ValidationStats summarises a validation pass.
type ValidationStats struct {
	Sampled    int `yaml:"sampled"`
	Matched    int `yaml:"matched"`
	Mismatched int `yaml:"mismatched"`
	Missing    int `yaml:"missing"`
	Errors     int `yaml:"errors"`
}

// Add accumulates other into s.
func (s *ValidationStats) Add(other ValidationStats) {
	s.Sampled += other.Sampled
	s.Matched += other.Matched
	s.Mismatched += other.Mismatched
	s.Missing += other.Missing
	s.Errors += other.Errors
}

// OK reports whether every sampled entry matched.
func (s ValidationStats) OK() bool {
	return s.Mismatched == 0 && s.Missing == 0 && s.Errors == 0
}

// MatchRatio returns Matched/Sampled, or 1 when nothing was sampled.
func (s ValidationStats) MatchRatio() float64 {
	if s.Sampled == 0 {
		return 1
	}
	return float64(s.Matched) / float64(s.Sampled)
}

// ApplySchema runs each DDL statement against sess in order.
func ApplySchema(ctx context.Context, sess session.Session, table string, ddl []string) error {
	for _, stmt := range ddl {
		if _, err := sess.Execute(ctx, session.Statement{Kind: session.KindSchema, Table: table, Query: stmt}); err != nil {
			return fmt.Errorf("workload: apply schema for %s: %w", table, err)
		}
	}
	return nil
}
