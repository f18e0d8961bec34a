package metrics

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Success(context.Background(), KindMutation, time.Millisecond)
	r.Failure(context.Background(), KindSelect, time.Millisecond)
	if r.Counts() != (Counts{}) || r.Latencies() != nil {
		t.Fatal("nil recorder must report nothing")
	}
}

func TestCountsPerKind(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	r.Success(ctx, KindInsert, time.Millisecond)
	r.Success(ctx, KindMutation, time.Millisecond)
	r.Success(ctx, KindMutation, time.Millisecond)
	r.Success(ctx, KindSelect, time.Millisecond)
	r.Failure(ctx, KindSelect, time.Millisecond)
	got := r.Counts()
	want := Counts{Mutations: 2, Selects: 1, Inserts: 1, Errors: 1}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
	if got.Total() != 5 {
		t.Fatalf("expected total 5, got %d", got.Total())
	}
}

func TestConcurrentRecording(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			for range 1000 {
				r.Success(context.Background(), KindMutation, 250*time.Microsecond)
			}
		})
	}
	wg.Wait()
	if r.Counts().Mutations != 8000 {
		t.Fatalf("expected 8000 mutations, got %d", r.Counts().Mutations)
	}
	lat := r.Latencies()
	if len(lat) != 1 || lat[0].Count != 8000 {
		t.Fatalf("unexpected latency summary %+v", lat)
	}
}

func TestLatencySummary(t *testing.T) {
	r := New(nil)
	ctx := context.Background()
	for i := 1; i <= 100; i++ {
		r.Success(ctx, KindSelect, time.Duration(i)*time.Millisecond)
	}
	r.Success(ctx, KindMutation, time.Hour)
	summaries := r.Latencies()
	if len(summaries) != 2 || summaries[0].Kind != KindMutation || summaries[1].Kind != KindSelect {
		t.Fatalf("unexpected summaries %+v", summaries)
	}
	if summaries[0].Max < 4*time.Minute {
		t.Fatalf("out of range latency must clamp to the histogram ceiling, got %v", summaries[0].Max)
	}
	sel := summaries[1]
	if sel.Count != 100 {
		t.Fatalf("expected 100 selects, got %d", sel.Count)
	}
	within := func(got, want time.Duration) bool {
		diff := got - want
		return diff > -time.Millisecond && diff < time.Millisecond
	}
	if !within(sel.P50, 50*time.Millisecond) || !within(sel.P99, 99*time.Millisecond) || !within(sel.Max, 100*time.Millisecond) {
		t.Fatalf("unexpected quantiles %+v", sel)
	}
}
