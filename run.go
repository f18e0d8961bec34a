package stressor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/dispatch"
	"pkt.systems/stressor/internal/gate"
	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/metrics"
	"pkt.systems/stressor/internal/report"
	"pkt.systems/stressor/internal/version"
	"pkt.systems/stressor/internal/workload"
	"pkt.systems/stressor/internal/workload/profiles"
)

// Profiles returns the registry of built-in workload profiles.
func Profiles(logger pslog.Logger) *workload.Registry {
	return profiles.Default(logger)
}

// Run validates cfg, prepares the profile schema and drives every worker
// through populate (when configured), the measured run and validation.
//
// On cancellation every worker stops submitting, drains its in-flight
// requests and the partial report is returned together with the context
// error.
func Run(ctx context.Context, cfg Config, logger pslog.Logger) (*report.Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = loggingutil.EnsureLogger(logger).With("run_id", cfg.RunID)
	runLogger := loggingutil.WithSubsystem(logger, "stressor.run")

	profile, err := Profiles(logger).Lookup(cfg.Profile)
	if err != nil {
		return nil, err
	}
	args, err := loadArgs(cfg)
	if err != nil {
		return nil, err
	}

	tel, err := setupTelemetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()
	rec := metrics.New(logger)

	sess, keyspace, err := openSession(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			runLogger.Warn("stressor.session.close_failed", "error", err)
		}
	}()
	if err := profile.Prepare(ctx, sess, keyspace); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.Threads))
	}
	workers := make([]*dispatch.Dispatcher, cfg.Threads)
	for i := range workers {
		runner, err := profile.Runner(args, cfg.Seed+uint64(i))
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.Name(), err)
		}
		workers[i], err = dispatch.New(dispatch.Context{
			Session:    sess,
			Gate:       gate.New(cfg.Concurrency),
			Runner:     runner,
			Sampler:    profile.Sampler(sess, cfg.SampleRate, cfg.SampleCapacity),
			Metrics:    rec,
			Limiter:    limiter,
			Logger:     logger,
			RunID:      cfg.RunID,
			Worker:     i,
			ReadRate:   cfg.ReadRate,
			Iterations: cfg.Iterations,
			Partitions: cfg.Partitions,
			Populate:   cfg.Populate,
			Generator:  keygen.Kind(cfg.Generator),
			Seed:       cfg.Seed,
		})
		if err != nil {
			return nil, err
		}
	}

	runLogger.Info("stressor.run.start",
		"profile", profile.Name(),
		"store", cfg.Store,
		"keyspace", keyspace,
		"threads", cfg.Threads,
		"concurrency", cfg.Concurrency,
		"populate", cfg.Populate,
		"iterations", cfg.Iterations,
		"read_rate", cfg.ReadRate,
		"partitions", cfg.Partitions,
		"generator", cfg.Generator,
		"seed", cfg.Seed,
	)
	rep := &report.Report{
		RunID:   cfg.RunID,
		Version: version.Current(),
		Profile: profile.Name(),
		Store:   cfg.Store,
		Threads: cfg.Threads,
		Args:    args.Map(),
		Started: time.Now(),
	}
	probe := report.StartHostProbe(ctx)
	expected := uint64(cfg.Threads) * uint64(cfg.Populate+cfg.Iterations)
	stopProgress := startProgress(ctx, cfg.ProgressInterval, rec, expected, logger)

	var (
		mu         sync.Mutex
		populate   dispatch.PhaseResult
		run        dispatch.PhaseResult
		validation workload.ValidationStats
	)
	tracer := otel.Tracer("pkt.systems/stressor")
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range workers {
		g.Go(func() error {
			if cfg.Populate > 0 {
				res, err := tracePhase(gctx, tracer, "stressor.populate", i, d.Populate)
				mu.Lock()
				populate.Add(res)
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			res, err := tracePhase(gctx, tracer, "stressor.run", i, d.Run)
			mu.Lock()
			run.Add(res)
			mu.Unlock()
			if err != nil {
				return err
			}
			stats, err := d.Validate(gctx)
			mu.Lock()
			validation.Add(stats)
			mu.Unlock()
			return err
		})
	}
	runErr := g.Wait()
	stopProgress()
	for i, d := range workers {
		if msg := d.LastFailure(); msg != "" {
			runLogger.Info("stressor.worker.last_failure", "worker", i, "error", msg)
		}
	}

	rep.Finished = time.Now()
	if cfg.Populate > 0 {
		rep.Populate = &populate
	}
	rep.Run = run
	rep.Validation = validation
	rep.Counts = rec.Counts()
	rep.Latencies = rec.Latencies()
	rep.Host = probe.Finish(context.WithoutCancel(ctx))
	if runErr != nil {
		rep.Interrupted = runErr.Error()
		runLogger.Warn("stressor.run.interrupted", "error", runErr)
	} else {
		runLogger.Info("stressor.run.done",
			"mutations", run.Mutations,
			"selects", run.Selects,
			"errors", run.Failed,
			"elapsed", run.Elapsed,
			"validation_ok", validation.OK(),
		)
	}
	if cfg.ReportPath != "" {
		if err := report.WriteYAML(cfg.ReportPath, rep); err != nil {
			if runErr == nil {
				runErr = err
			}
		} else {
			runLogger.Info("stressor.report.written", "path", cfg.ReportPath)
		}
	}
	return rep, runErr
}

func tracePhase(ctx context.Context, tracer trace.Tracer, name string, worker int, phase func(context.Context) (dispatch.PhaseResult, error)) (dispatch.PhaseResult, error) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("stressor.worker", worker)))
	defer span.End()
	res, err := phase(ctx)
	span.SetAttributes(
		attribute.Int64("stressor.submitted", int64(res.Submitted)),
		attribute.Int64("stressor.failed", int64(res.Failed)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func loadArgs(cfg Config) (workload.Args, error) {
	if cfg.ArgsFile != "" {
		return workload.LoadArgsFile(cfg.ArgsFile, cfg.ProfileArgs)
	}
	return workload.ParseArgs(cfg.ProfileArgs)
}
