// Package metrics records per-request outcomes: otel counters for export,
// atomic mirrors for progress reporting and HDR histograms for the latency
// summary. A nil *Recorder is valid and records nothing.
package metrics

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"pkt.systems/pslog"
)

// Kind names the operation a sample belongs to.
type Kind string

const (
	// KindInsert is a populate-phase write.
	KindInsert Kind = "insert"
	// KindMutation is a run-phase write.
	KindMutation Kind = "mutation"
	// KindSelect is a run-phase read.
	KindSelect Kind = "select"
)

const (
	minLatencyMicros = 1
	maxLatencyMicros = int64(5 * time.Minute / time.Microsecond)
	sigFigs          = 3
)

// Recorder is safe for concurrent use.
type Recorder struct {
	mutations metric.Int64Counter
	selects   metric.Int64Counter
	inserts   metric.Int64Counter
	errors    metric.Int64Counter
	latency   metric.Float64Histogram

	mutationCount atomic.Uint64
	selectCount   atomic.Uint64
	insertCount   atomic.Uint64
	errorCount    atomic.Uint64

	mu         sync.Mutex
	histograms map[Kind]*hdrhistogram.Histogram
}

// New builds a recorder on the global otel meter provider.
func New(logger pslog.Logger) *Recorder {
	meter := otel.Meter("pkt.systems/stressor/metrics")
	r := &Recorder{histograms: make(map[Kind]*hdrhistogram.Histogram)}
	var err error

	r.mutations, err = meter.Int64Counter(
		"stressor.mutations",
		metric.WithDescription("Successful run-phase mutations"),
	)
	logMetricInitError(logger, "stressor.mutations", err)

	r.selects, err = meter.Int64Counter(
		"stressor.selects",
		metric.WithDescription("Successful run-phase selects"),
	)
	logMetricInitError(logger, "stressor.selects", err)

	r.inserts, err = meter.Int64Counter(
		"stressor.populate.inserts",
		metric.WithDescription("Successful populate-phase inserts"),
	)
	logMetricInitError(logger, "stressor.populate.inserts", err)

	r.errors, err = meter.Int64Counter(
		"stressor.errors",
		metric.WithDescription("Failed requests"),
	)
	logMetricInitError(logger, "stressor.errors", err)

	r.latency, err = meter.Float64Histogram(
		"stressor.request.duration",
		metric.WithDescription("Request latency"),
		metric.WithUnit("s"),
	)
	logMetricInitError(logger, "stressor.request.duration", err)

	return r
}

// Success records a completed request of kind.
func (r *Recorder) Success(ctx context.Context, kind Kind, latency time.Duration) {
	if r == nil {
		return
	}
	ctx = metricContext(ctx)
	switch kind {
	case KindInsert:
		r.insertCount.Add(1)
		add(ctx, r.inserts)
	case KindMutation:
		r.mutationCount.Add(1)
		add(ctx, r.mutations)
	case KindSelect:
		r.selectCount.Add(1)
		add(ctx, r.selects)
	}
	r.observe(ctx, kind, "ok", latency)
}

// Failure records a failed request of kind.
func (r *Recorder) Failure(ctx context.Context, kind Kind, latency time.Duration) {
	if r == nil {
		return
	}
	ctx = metricContext(ctx)
	r.errorCount.Add(1)
	if r.errors != nil {
		r.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("stressor.kind", string(kind))))
	}
	r.observe(ctx, kind, "error", latency)
}

func (r *Recorder) observe(ctx context.Context, kind Kind, outcome string, latency time.Duration) {
	if r.latency != nil {
		r.latency.Record(ctx, latency.Seconds(), metric.WithAttributes(
			attribute.String("stressor.kind", string(kind)),
			attribute.String("stressor.outcome", outcome),
		))
	}
	micros := min(max(latency.Microseconds(), minLatencyMicros), maxLatencyMicros)
	r.mu.Lock()
	h, ok := r.histograms[kind]
	if !ok {
		h = hdrhistogram.New(minLatencyMicros, maxLatencyMicros, sigFigs)
		r.histograms[kind] = h
	}
	_ = h.RecordValue(micros)
	r.mu.Unlock()
}

// Counts is a point-in-time view of the counters.
type Counts struct {
	Mutations uint64 `yaml:"mutations"`
	Selects   uint64 `yaml:"selects"`
	Inserts   uint64 `yaml:"inserts"`
	Errors    uint64 `yaml:"errors"`
}

// Total returns every recorded request.
func (c Counts) Total() uint64 {
	return c.Mutations + c.Selects + c.Inserts + c.Errors
}

// Counts returns the current counters.
func (r *Recorder) Counts() Counts {
	if r == nil {
		return Counts{}
	}
	return Counts{
		Mutations: r.mutationCount.Load(),
		Selects:   r.selectCount.Load(),
		Inserts:   r.insertCount.Load(),
		Errors:    r.errorCount.Load(),
	}
}

// LatencySummary summarises one histogram.
type LatencySummary struct {
	Kind  Kind          `yaml:"kind"`
	Count int64         `yaml:"count"`
	Mean  time.Duration `yaml:"mean"`
	P50   time.Duration `yaml:"p50"`
	P90   time.Duration `yaml:"p90"`
	P99   time.Duration `yaml:"p99"`
	Max   time.Duration `yaml:"max"`
}

// Latencies returns one summary per recorded kind, sorted by kind.
func (r *Recorder) Latencies() []LatencySummary {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LatencySummary, 0, len(r.histograms))
	for kind, h := range r.histograms {
		out = append(out, LatencySummary{
			Kind:  kind,
			Count: h.TotalCount(),
			Mean:  micros(int64(h.Mean())),
			P50:   micros(h.ValueAtQuantile(50)),
			P90:   micros(h.ValueAtQuantile(90)),
			P99:   micros(h.ValueAtQuantile(99)),
			Max:   micros(h.Max()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func add(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
