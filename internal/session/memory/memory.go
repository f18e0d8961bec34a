// Package memory implements an in-process session backed by maps. It keeps CQL
// upsert semantics (writes merge columns into the addressed row) and can add
// artificial latency so completion callbacks interleave the way they would
// against a real cluster. Intended for tests and local dry runs.
package memory

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/session"
)

// Config configures the in-memory session.
type Config struct {
	// Latency is the base delay applied before every asynchronous completion.
	Latency time.Duration
	// Jitter adds a uniformly drawn extra delay in [0, Jitter).
	Jitter time.Duration
	// Seed seeds the jitter generator.
	Seed   uint64
	Logger pslog.Logger
}

// Store implements session.Session in memory.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]map[string]session.Row

	latency time.Duration
	jitter  time.Duration
	rngMu   sync.Mutex
	rng     *rand.Rand

	wg     sync.WaitGroup
	closed atomic.Bool

	writes atomic.Uint64
	reads  atomic.Uint64
	ddl    atomic.Uint64

	logger pslog.Logger
}

// New returns a ready to use store without latency.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig returns a store wired according to cfg.
func NewWithConfig(cfg Config) *Store {
	return &Store{
		tables:  make(map[string]map[string]map[string]session.Row),
		latency: max(cfg.Latency, 0),
		jitter:  max(cfg.Jitter, 0),
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed+1)),
		logger:  loggingutil.WithSubsystem(cfg.Logger, "session.memory"),
	}
}

// ExecuteAsync runs stmt on its own goroutine after the configured delay.
func (s *Store) ExecuteAsync(ctx context.Context, stmt session.Statement, done session.Callback) {
	if s.closed.Load() {
		s.wg.Go(func() { done(session.Result{}, session.ErrClosed) })
		return
	}
	delay := s.delay()
	s.wg.Go(func() {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				done(session.Result{}, ctx.Err())
				return
			}
		}
		done(s.Execute(ctx, stmt))
	})
}

// Execute applies stmt immediately.
func (s *Store) Execute(ctx context.Context, stmt session.Statement) (session.Result, error) {
	if err := ctx.Err(); err != nil {
		return session.Result{}, err
	}
	if s.closed.Load() {
		return session.Result{}, session.ErrClosed
	}
	switch stmt.Kind {
	case session.KindWrite:
		s.writes.Add(1)
		s.put(stmt)
		return session.Result{}, nil
	case session.KindRead:
		s.reads.Add(1)
		return session.Result{Rows: s.get(stmt)}, nil
	default:
		s.ddl.Add(1)
		s.logger.Trace("session.memory.schema", "query", stmt.Query)
		return session.Result{}, nil
	}
}

// Close waits for outstanding callbacks. Later requests fail with
// session.ErrClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wg.Wait()
	s.logger.Debug("session.memory.closed",
		"writes", s.writes.Load(),
		"reads", s.reads.Load(),
		"schema", s.ddl.Load(),
	)
	return nil
}

// Rows reports how many rows table holds.
func (s *Store) Rows(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, partition := range s.tables[table] {
		total += len(partition)
	}
	return total
}

// Writes reports how many writes were applied.
func (s *Store) Writes() uint64 { return s.writes.Load() }

// Reads reports how many reads were served.
func (s *Store) Reads() uint64 { return s.reads.Load() }

func (s *Store) delay() time.Duration {
	if s.jitter <= 0 {
		return s.latency
	}
	s.rngMu.Lock()
	extra := time.Duration(s.rng.Int64N(int64(s.jitter)))
	s.rngMu.Unlock()
	return s.latency + extra
}

func (s *Store) put(stmt session.Statement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.tables[stmt.Table]
	if !ok {
		table = make(map[string]map[string]session.Row)
		s.tables[stmt.Table] = table
	}
	partition, ok := table[stmt.Partition]
	if !ok {
		partition = make(map[string]session.Row)
		table[stmt.Partition] = partition
	}
	row, ok := partition[stmt.Clustering]
	if !ok {
		row = make(session.Row, len(stmt.Values))
		partition[stmt.Clustering] = row
	}
	for column, value := range stmt.Values {
		row[column] = value
	}
}

func (s *Store) get(stmt session.Statement) []session.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partition := s.tables[stmt.Table][stmt.Partition]
	if len(partition) == 0 {
		return nil
	}
	if stmt.Clustering != "" {
		row, ok := partition[stmt.Clustering]
		if !ok {
			return nil
		}
		return []session.Row{row.Clone()}
	}
	clustering := make([]string, 0, len(partition))
	for key := range partition {
		clustering = append(clustering, key)
	}
	sort.Strings(clustering)
	rows := make([]session.Row, 0, len(clustering))
	for _, key := range clustering {
		rows = append(rows, partition[key].Clone())
	}
	return rows
}
