// Package gate bounds the number of requests a worker keeps in flight.
//
// A Gate hands out at most Capacity permits. Every successful Acquire returns a
// Permit that must be released exactly once, normally by the completion
// callback of the request it guards. Drain blocks until every permit has been
// returned and is the barrier between load phases.
//
//	g := gate.New(64)
//	permit, err := g.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	session.ExecuteAsync(ctx, stmt, func(res session.Result, err error) {
//	    defer permit.Release()
//	    // record outcome
//	})
//	...
//	_ = g.Drain(ctx)
//
// Releasing a permit twice, or releasing more permits than are held, is a
// programming error and panics.
package gate

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission gate with a fixed number of permits.
type Gate struct {
	capacity int64
	sem      *semaphore.Weighted
	inflight atomic.Int64
	peak     atomic.Int64
	acquired atomic.Uint64
}

// New returns a gate with capacity permits. Capacities below one are raised to
// one so a misconfigured worker still makes progress.
func New(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{
		capacity: int64(capacity),
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Capacity reports the configured permit count.
func (g *Gate) Capacity() int {
	return int(g.capacity)
}

// InFlight reports the number of permits currently held.
func (g *Gate) InFlight() int {
	return int(g.inflight.Load())
}

// Peak reports the highest number of permits held at once since creation.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}

// Acquired reports the total number of permits handed out since creation.
func (g *Gate) Acquired() uint64 {
	return g.acquired.Load()
}

// Acquire blocks until a permit is available or ctx is done.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return g.admit(), nil
}

// TryAcquire takes a permit without blocking. It returns nil when the gate is
// exhausted.
func (g *Gate) TryAcquire() *Permit {
	if !g.sem.TryAcquire(1) {
		return nil
	}
	return g.admit()
}

// Drain blocks until all permits are available again, then returns them. When
// ctx ends first Drain returns ctx's error and leaves the gate untouched.
func (g *Gate) Drain(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, g.capacity); err != nil {
		return fmt.Errorf("gate: drain: %w", err)
	}
	g.sem.Release(g.capacity)
	return nil
}

func (g *Gate) admit() *Permit {
	held := g.inflight.Add(1)
	if held > g.capacity {
		panic(fmt.Sprintf("gate: %d permits held with capacity %d", held, g.capacity))
	}
	for {
		peak := g.peak.Load()
		if held <= peak || g.peak.CompareAndSwap(peak, held) {
			break
		}
	}
	g.acquired.Add(1)
	return &Permit{gate: g}
}

func (g *Gate) release() {
	if g.inflight.Add(-1) < 0 {
		panic("gate: released more permits than held")
	}
	g.sem.Release(1)
}

// Permit is one unit of admission handed out by Acquire.
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// Release returns the permit to its gate. It must be called exactly once.
func (p *Permit) Release() {
	if p == nil {
		panic("gate: release of nil permit")
	}
	if !p.released.CompareAndSwap(false, true) {
		panic("gate: permit released twice")
	}
	p.gate.release()
}

// Released reports whether Release has been called.
func (p *Permit) Released() bool {
	return p != nil && p.released.Load()
}
