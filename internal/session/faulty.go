package session

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/loggingutil"
)

// Faulty wraps a session and fails a fixed fraction of reads and writes with
// ErrInjected before they reach the wrapped session. Schema statements always
// pass through. Draws come from a seeded generator in submission order, so a
// single submitting goroutine sees a reproducible failure pattern.
type Faulty struct {
	next   Session
	rate   float64
	logger pslog.Logger

	mu  sync.Mutex
	rng *rand.Rand

	wg       sync.WaitGroup
	injected atomic.Uint64
}

// NewFaulty returns a decorator failing rate (0..1) of all requests.
func NewFaulty(next Session, rate float64, seed uint64, logger pslog.Logger) *Faulty {
	rate = min(max(rate, 0), 1)
	f := &Faulty{
		next:   next,
		rate:   rate,
		logger: loggingutil.WithSubsystem(logger, "session.faulty"),
		rng:    rand.New(rand.NewPCG(seed, ^seed)),
	}
	f.logger.Info("session.faulty.enabled", "rate", rate, "seed", seed)
	return f
}

// Injected reports how many requests were failed on purpose.
func (f *Faulty) Injected() uint64 {
	return f.injected.Load()
}

func (f *Faulty) shouldFail(stmt Statement) bool {
	if stmt.Kind == KindSchema || f.rate == 0 {
		return false
	}
	f.mu.Lock()
	draw := f.rng.Float64()
	f.mu.Unlock()
	if draw >= f.rate {
		return false
	}
	f.injected.Add(1)
	return true
}

// ExecuteAsync implements Session.
func (f *Faulty) ExecuteAsync(ctx context.Context, stmt Statement, done Callback) {
	if f.shouldFail(stmt) {
		f.wg.Go(func() { done(Result{}, ErrInjected) })
		return
	}
	f.next.ExecuteAsync(ctx, stmt, done)
}

// Execute implements Session.
func (f *Faulty) Execute(ctx context.Context, stmt Statement) (Result, error) {
	if f.shouldFail(stmt) {
		return Result{}, ErrInjected
	}
	return f.next.Execute(ctx, stmt)
}

// Close waits for injected callbacks and closes the wrapped session.
func (f *Faulty) Close() error {
	f.wg.Wait()
	f.logger.Debug("session.faulty.closed", "injected", f.injected.Load())
	return f.next.Close()
}
