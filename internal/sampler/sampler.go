// Package sampler keeps a bounded sample of successful mutations and checks
// them against the database once the run has drained.
//
// Whether a key is sampled is decided by hashing it with murmur3, so every
// write to the same key makes the same decision and a sampled key always
// holds its most recent successful snapshot.
package sampler

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/workload"
)

// Lookup builds the statement that re-reads a sampled mutation.
type Lookup func(key string, fields workload.Fields) session.Statement

// Bounded implements workload.Sampler with a capacity limit.
type Bounded struct {
	sess     session.Session
	lookup   Lookup
	rate     float64
	cutoff   uint64
	capacity int
	logger   pslog.Logger

	mu      sync.Mutex
	entries map[string]workload.Fields

	dropped atomic.Uint64
}

var _ workload.Sampler = (*Bounded)(nil)

// New returns a sampler keeping roughly rate (0..1) of the keys it is offered,
// up to capacity distinct keys. capacity <= 0 disables sampling.
func New(sess session.Session, lookup Lookup, rate float64, capacity int, logger pslog.Logger) *Bounded {
	rate = min(max(rate, 0), 1)
	var cutoff uint64
	switch {
	case rate >= 1:
		cutoff = math.MaxUint64
	case rate > 0:
		cutoff = uint64(rate * float64(math.MaxUint64))
	}
	return &Bounded{
		sess:     sess,
		lookup:   lookup,
		rate:     rate,
		cutoff:   cutoff,
		capacity: max(capacity, 0),
		logger:   loggingutil.WithSubsystem(logger, "sampler"),
		entries:  make(map[string]workload.Fields),
	}
}

// Selected reports whether key falls inside the sampled fraction.
func (b *Bounded) Selected(key string) bool {
	switch {
	case b.rate <= 0:
		return false
	case b.rate >= 1:
		return true
	default:
		return murmur3.Sum64([]byte(key)) < b.cutoff
	}
}

// MaybePut records a snapshot of fields for key when the key is selected. An
// already sampled key is overwritten; new keys are dropped once the sampler
// is full.
func (b *Bounded) MaybePut(key string, fields workload.Fields) {
	if !b.Selected(key) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok && len(b.entries) >= b.capacity {
		b.dropped.Add(1)
		return
	}
	b.entries[key] = fields.Clone()
}

// Size reports how many distinct keys are sampled.
func (b *Bounded) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Dropped reports how many selected keys were discarded because the sampler
// was full.
func (b *Bounded) Dropped() uint64 {
	return b.dropped.Load()
}

// Validate re-reads every sampled key and compares the stored row against the
// snapshot. A key matches when at least one returned row carries every
// snapshotted column with the same value. Only context cancellation aborts
// the pass; read failures are counted.
func (b *Bounded) Validate(ctx context.Context) (workload.ValidationStats, error) {
	b.mu.Lock()
	keys := make([]string, 0, len(b.entries))
	snapshot := make(map[string]workload.Fields, len(b.entries))
	for key, fields := range b.entries {
		keys = append(keys, key)
		snapshot[key] = fields
	}
	b.mu.Unlock()
	sort.Strings(keys)

	var stats workload.ValidationStats
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		fields := snapshot[key]
		stats.Sampled++
		res, err := b.sess.Execute(ctx, b.lookup(key, fields))
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.Errors++
			b.logger.Debug("sampler.validate.error", "key", key, "error", err)
		case len(res.Rows) == 0:
			stats.Missing++
			b.logger.Debug("sampler.validate.missing", "key", key)
		case anyMatch(res.Rows, fields):
			stats.Matched++
		default:
			stats.Mismatched++
			b.logger.Debug("sampler.validate.mismatch", "key", key)
		}
	}
	return stats, nil
}

func anyMatch(rows []session.Row, want workload.Fields) bool {
	for _, row := range rows {
		if matches(row, want) {
			return true
		}
	}
	return false
}

func matches(row session.Row, want workload.Fields) bool {
	for column, value := range want {
		got, ok := row[column]
		if !ok || got != value {
			return false
		}
	}
	return true
}
