package gate

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewClampsCapacity(t *testing.T) {
	for _, capacity := range []int{-3, 0, 1} {
		if got := New(capacity).Capacity(); got != 1 {
			t.Fatalf("New(%d).Capacity()=%d want 1", capacity, got)
		}
	}
	if got := New(32).Capacity(); got != 32 {
		t.Fatalf("expected capacity 32, got %d", got)
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	g := New(1)
	first, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	acquired := make(chan *Permit)
	go func() {
		p, err := g.Acquire(context.Background())
		if err != nil {
			t.Errorf("second acquire: %v", err)
			close(acquired)
			return
		}
		acquired <- p
	}()
	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while gate was exhausted")
	case <-time.After(50 * time.Millisecond):
	}
	first.Release()
	select {
	case p := <-acquired:
		if p == nil {
			t.Fatal("second acquire failed")
		}
		p.Release()
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for second acquire")
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected 0 in flight, got %d", g.InFlight())
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	g := New(1)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if g.InFlight() != 1 {
		t.Fatalf("failed acquire changed in-flight count: %d", g.InFlight())
	}
}

func TestTryAcquire(t *testing.T) {
	g := New(2)
	a := g.TryAcquire()
	b := g.TryAcquire()
	if a == nil || b == nil {
		t.Fatal("expected two permits")
	}
	if g.TryAcquire() != nil {
		t.Fatal("expected exhausted gate")
	}
	a.Release()
	b.Release()
	if g.Acquired() != 2 {
		t.Fatalf("expected 2 acquisitions, got %d", g.Acquired())
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	g := New(2)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	p.Release()
	if !p.Released() {
		t.Fatal("expected permit to report released")
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
		if g.InFlight() != 0 {
			t.Fatalf("double release corrupted in-flight count: %d", g.InFlight())
		}
	}()
	p.Release()
}

func TestNilPermitReleasePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on nil permit release")
		}
	}()
	var p *Permit
	p.Release()
}

func TestDrainWaitsForOutstandingPermits(t *testing.T) {
	g := New(4)
	permits := make([]*Permit, 0, 4)
	for range 4 {
		p, err := g.Acquire(context.Background())
		if err != nil {
			t.Fatalf("acquire: %v", err)
		}
		permits = append(permits, p)
	}
	drained := make(chan error, 1)
	go func() { drained <- g.Drain(context.Background()) }()
	for i, p := range permits {
		select {
		case <-drained:
			t.Fatalf("drain returned with %d permits outstanding", len(permits)-i)
		case <-time.After(10 * time.Millisecond):
		}
		p.Release()
	}
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drain did not return")
	}
	if g.InFlight() != 0 {
		t.Fatalf("expected empty gate after drain, got %d", g.InFlight())
	}
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire after drain: %v", err)
	}
	p.Release()
}

func TestDrainCancelled(t *testing.T) {
	g := New(1)
	p, err := g.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := g.Drain(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled drain, got %v", err)
	}
	p.Release()
	if err := g.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestPropertyInFlightNeverExceedsCapacity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("peak in-flight stays within capacity and drain empties the gate", prop.ForAll(
		func(capacity int, ops int, seed uint64) bool {
			g := New(capacity)
			rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
			var wg sync.WaitGroup
			for range ops {
				p, err := g.Acquire(context.Background())
				if err != nil {
					return false
				}
				if g.InFlight() > capacity {
					return false
				}
				delay := time.Duration(rng.IntN(200)) * time.Microsecond
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer p.Release()
					time.Sleep(delay)
				}()
			}
			if err := g.Drain(context.Background()); err != nil {
				return false
			}
			wg.Wait()
			return g.Peak() <= capacity && g.InFlight() == 0 && g.Acquired() == uint64(ops)
		},
		gen.IntRange(1, 32),
		gen.IntRange(0, 200),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
