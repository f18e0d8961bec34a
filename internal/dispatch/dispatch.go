// Package dispatch runs one worker's phases: it turns a stream of generated
// keys into asynchronous requests, bounds them with the worker's admission
// gate and drains the gate before a phase is reported done.
//
// Each phase walks the same state machine:
//
//	Idle -> Dispatching -> Draining -> Done
//
// Submission is single threaded. Completions arrive on session goroutines and
// run concurrently with submission and with each other; the permit each
// request holds is released by its completion and nowhere else.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/gate"
	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/metrics"
	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/workload"
)

// State is the phase state of a dispatcher.
type State int32

const (
	StateIdle State = iota
	StateDispatching
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Phase names a dispatch phase.
type Phase string

const (
	PhasePopulate Phase = "populate"
	PhaseRun      Phase = "run"
)

// Context is the per-worker bundle a dispatcher runs with. It is built once
// per worker and not modified afterwards.
type Context struct {
	Session session.Session
	Gate    *gate.Gate
	Runner  workload.Runner
	Sampler workload.Sampler
	Metrics *metrics.Recorder
	// Limiter paces submissions. It may be shared between workers.
	Limiter *rate.Limiter
	Logger  pslog.Logger

	RunID      string
	Worker     int
	ReadRate   float64
	Iterations int64
	Partitions int64
	Populate   int64
	Generator  keygen.Kind
	Seed       uint64
}

// PhaseResult summarises one phase of one worker.
type PhaseResult struct {
	Phase     Phase         `yaml:"phase"`
	Worker    int           `yaml:"worker"`
	Submitted uint64        `yaml:"submitted"`
	Mutations uint64        `yaml:"mutations"`
	Selects   uint64        `yaml:"selects"`
	Failed    uint64        `yaml:"failed"`
	Exhausted bool          `yaml:"exhausted"`
	Elapsed   time.Duration `yaml:"elapsed"`
}

// Completed returns the number of requests whose callback ran.
func (r PhaseResult) Completed() uint64 {
	return r.Mutations + r.Selects + r.Failed
}

// Add accumulates other into r. Exhausted stays true only when every added
// result was exhausted; Elapsed keeps the longest phase.
func (r *PhaseResult) Add(other PhaseResult) {
	if r.Phase == "" {
		r.Phase = other.Phase
		r.Exhausted = true
	}
	r.Submitted += other.Submitted
	r.Mutations += other.Mutations
	r.Selects += other.Selects
	r.Failed += other.Failed
	r.Exhausted = r.Exhausted && other.Exhausted
	r.Elapsed = max(r.Elapsed, other.Elapsed)
}

// Dispatcher executes the phases of one worker.
type Dispatcher struct {
	cfg    Context
	prefix string
	seed   uint64
	rng    *rand.Rand
	logger pslog.Logger

	state       atomic.Int32
	failedOnce  atomic.Bool
	lastFailure atomic.Pointer[string]
}

// New validates c and returns an idle dispatcher.
func New(c Context) (*Dispatcher, error) {
	switch {
	case c.Session == nil:
		return nil, errors.New("dispatch: session required")
	case c.Gate == nil:
		return nil, errors.New("dispatch: gate required")
	case c.Runner == nil:
		return nil, errors.New("dispatch: runner required")
	case c.ReadRate < 0 || c.ReadRate > 1:
		return nil, fmt.Errorf("dispatch: read rate %v outside [0,1]", c.ReadRate)
	case c.Iterations < 0 || c.Populate < 0:
		return nil, errors.New("dispatch: negative iteration count")
	}
	if c.Partitions < 1 {
		c.Partitions = 1
	}
	if c.Generator == "" {
		c.Generator = keygen.KindRandom
	}
	seed := c.Seed ^ (uint64(c.Worker+1) * 0x9e3779b97f4a7c15)
	d := &Dispatcher{
		cfg:    c,
		prefix: keygen.Prefix(c.RunID, c.Worker),
		seed:   seed,
		rng:    rand.New(rand.NewPCG(seed, seed>>1)),
		logger: loggingutil.WithSubsystem(c.Logger, "dispatch").With("worker", c.Worker),
	}
	return d, nil
}

// State reports the current phase state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}

// Populate writes Populate sequential keys. Every write counts as an insert.
func (d *Dispatcher) Populate(ctx context.Context) (PhaseResult, error) {
	keys := keygen.Sequential(d.prefix, d.cfg.Populate)
	return d.dispatch(ctx, PhasePopulate, keys, func(key keygen.Key) (workload.Operation, metrics.Kind) {
		return d.cfg.Runner.NextMutation(key), metrics.KindInsert
	})
}

// Run issues Iterations requests against keys drawn from Partitions, choosing
// reads with probability ReadRate.
func (d *Dispatcher) Run(ctx context.Context) (PhaseResult, error) {
	keys, err := keygen.New(d.cfg.Generator, d.prefix, d.cfg.Iterations, d.cfg.Partitions, d.seed)
	if err != nil {
		return PhaseResult{Phase: PhaseRun, Worker: d.cfg.Worker}, err
	}
	return d.dispatch(ctx, PhaseRun, keys, func(key keygen.Key) (workload.Operation, metrics.Kind) {
		if workload.ChooseRead(d.rng, d.cfg.ReadRate) {
			return d.cfg.Runner.NextSelect(key), metrics.KindSelect
		}
		return d.cfg.Runner.NextMutation(key), metrics.KindMutation
	})
}

// Validate checks the worker's sampler. It must only be called after Run has
// returned.
func (d *Dispatcher) Validate(ctx context.Context) (workload.ValidationStats, error) {
	if d.cfg.Sampler == nil {
		return workload.ValidationStats{}, nil
	}
	d.logger.Info("dispatch.validate.start",
		"sampled", d.cfg.Sampler.Size(),
		"peak_inflight", d.cfg.Gate.Peak(),
		"acquired", d.cfg.Gate.Acquired(),
	)
	stats, err := d.cfg.Sampler.Validate(ctx)
	if err != nil {
		return stats, fmt.Errorf("dispatch: validate worker %d: %w", d.cfg.Worker, err)
	}
	d.logger.Info("dispatch.validate.done",
		"sampled", stats.Sampled,
		"matched", stats.Matched,
		"mismatched", stats.Mismatched,
		"missing", stats.Missing,
		"errors", stats.Errors,
	)
	return stats, nil
}

type phaseCounters struct {
	submitted atomic.Uint64
	mutations atomic.Uint64
	selects   atomic.Uint64
	failed    atomic.Uint64
}

func (d *Dispatcher) dispatch(ctx context.Context, phase Phase, keys keygen.Generator, next func(keygen.Key) (workload.Operation, metrics.Kind)) (PhaseResult, error) {
	logger := d.logger.With("phase", string(phase))
	counters := &phaseCounters{}
	start := time.Now()
	d.setState(StateDispatching)
	logger.Debug("dispatch.phase.start", "keys", keys.Len(), "concurrency", d.cfg.Gate.Capacity())

	var stopErr error
	for key := range keygen.All(keys) {
		if d.cfg.Limiter != nil {
			if err := d.cfg.Limiter.Wait(ctx); err != nil {
				stopErr = err
				break
			}
		}
		permit, err := d.cfg.Gate.Acquire(ctx)
		if err != nil {
			stopErr = err
			break
		}
		op, kind := next(key)
		counters.submitted.Add(1)
		d.submit(ctx, op, kind, permit, counters, logger)
	}

	d.setState(StateDraining)
	if err := d.cfg.Gate.Drain(context.WithoutCancel(ctx)); err != nil {
		return PhaseResult{}, err
	}
	d.setState(StateDone)

	result := PhaseResult{
		Phase:     phase,
		Worker:    d.cfg.Worker,
		Submitted: counters.submitted.Load(),
		Mutations: counters.mutations.Load(),
		Selects:   counters.selects.Load(),
		Failed:    counters.failed.Load(),
		Exhausted: stopErr == nil,
		Elapsed:   time.Since(start),
	}
	fields := []any{
		"submitted", result.Submitted,
		"mutations", result.Mutations,
		"selects", result.Selects,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	}
	if stopErr != nil {
		logger.Warn("dispatch.phase.interrupted", append(fields, "error", stopErr)...)
		return result, stopErr
	}
	logger.Info("dispatch.phase.done", fields...)
	return result, nil
}

func (d *Dispatcher) submit(ctx context.Context, op workload.Operation, kind metrics.Kind, permit *gate.Permit, counters *phaseCounters, logger pslog.Logger) {
	started := time.Now()
	switch op := op.(type) {
	case workload.Mutation:
		d.cfg.Session.ExecuteAsync(ctx, op.Statement, func(_ session.Result, err error) {
			defer permit.Release()
			latency := time.Since(started)
			if err != nil {
				counters.failed.Add(1)
				d.cfg.Metrics.Failure(ctx, kind, latency)
				d.logFailure(logger, kind, op.Key, err)
				return
			}
			if d.cfg.Sampler != nil {
				d.cfg.Sampler.MaybePut(op.Key, op.Fields)
			}
			counters.mutations.Add(1)
			d.cfg.Metrics.Success(ctx, kind, latency)
		})
	case workload.Read:
		d.cfg.Session.ExecuteAsync(ctx, op.Statement, func(_ session.Result, err error) {
			defer permit.Release()
			latency := time.Since(started)
			if err != nil {
				counters.failed.Add(1)
				d.cfg.Metrics.Failure(ctx, kind, latency)
				d.logFailure(logger, kind, op.Statement.Partition, err)
				return
			}
			counters.selects.Add(1)
			d.cfg.Metrics.Success(ctx, kind, latency)
		})
	default:
		permit.Release()
		panic(fmt.Sprintf("dispatch: unknown operation %T", op))
	}
}

// logFailure warns about the first failed request of the worker and keeps
// the rest at debug level.
func (d *Dispatcher) logFailure(logger pslog.Logger, kind metrics.Kind, key string, err error) {
	msg := err.Error()
	d.lastFailure.Store(&msg)
	if d.failedOnce.CompareAndSwap(false, true) {
		logger.Warn("dispatch.request.failed", "kind", string(kind), "key", key, "error", err)
		return
	}
	logger.Debug("dispatch.request.failed", "kind", string(kind), "key", key, "error", err)
}

// LastFailure returns the most recent request error message, if any.
func (d *Dispatcher) LastFailure() string {
	if msg := d.lastFailure.Load(); msg != nil {
		return *msg
	}
	return ""
}
