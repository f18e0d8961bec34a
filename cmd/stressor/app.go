package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"pkt.systems/pslog"

	"pkt.systems/stressor"
	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/report"
	"pkt.systems/stressor/internal/version"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("STRESSOR_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "stressor")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "stressor",
		Short:         "stressor drives concurrency-bounded read/write load against a CQL cluster and validates what it wrote",
		SilenceErrors: true,
		Example: `
  # Dry run against the in-process store with artificial latency
  stressor --store 'mem://?latency=2ms&jitter=1ms' --populate 10000 -n 100000

  # ScyllaDB cluster, 8 workers with 256 requests in flight each, 30% reads
  stressor --store 'cql://10.0.0.1,10.0.0.2/bench?consistency=local_quorum&replication=3' \
    -t 8 --concurrency 256 --read-rate 0.3 --populate 100000 -n 1000000

  # Time series profile with profile arguments, paced to 5000 ops/s
  stressor -p timeseries --args select-limit=20 --rate-limit 5000 --report out/run.yaml
`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			logger, err := configureLogger(baseLogger, v)
			if err != nil {
				return err
			}
			cliLogger := loggingutil.WithSubsystem(logger, "cli.run")
			cliLogger.Debug("cli.start", "version", version.String())
			configFile, err := loadConfigFile(v)
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("cli.config.loaded", "path", configFile)
			}
			cfg := bindConfig(v)
			rep, runErr := stressor.Run(cmd.Context(), cfg, logger)
			if rep != nil {
				if err := report.WriteText(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if v.GetBool("strict") && !rep.Validation.OK() {
				return fmt.Errorf("validation failed: %d mismatched, %d missing, %d errors",
					rep.Validation.Mismatched, rep.Validation.Missing, rep.Validation.Errors)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringP("config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	flags := cmd.Flags()
	flags.StringP("profile", "p", stressor.DefaultProfile, "workload profile (see 'stressor list')")
	flags.StringArray("args", nil, "profile argument as key=value (repeatable)")
	flags.String("args-file", "", "Java properties file with profile arguments; --args override it")
	flags.StringP("store", "s", stressor.DefaultStore, "store URL (mem://[keyspace]?latency=&jitter=&failure-rate=, cql://host[,host]/keyspace?consistency=&replication=)")
	flags.IntP("threads", "t", stressor.DefaultThreads, "number of workers")
	flags.Int64P("iterations", "n", stressor.DefaultIterations, "run-phase requests per worker")
	flags.Float64P("read-rate", "r", stressor.DefaultReadRate, "fraction of run-phase requests that are reads (0..1)")
	flags.Int64("partitions", stressor.DefaultPartitions, "distinct partition values drawn during the run")
	flags.Int64("populate", 0, "sequential keys written per worker before the run (0 skips populate)")
	flags.Int("concurrency", stressor.DefaultConcurrency, "in-flight request ceiling per worker")
	flags.String("run-id", "", "run identifier used as key prefix (default: generated)")
	flags.String("generator", stressor.DefaultGenerator, "run-phase key distribution (random, normal, sequence)")
	flags.Uint64("seed", 0, "seed for key generation and values (0 derives one from the clock)")
	flags.Float64("sample-rate", stressor.DefaultSampleRate, "fraction of written keys kept for validation (0..1)")
	flags.Int("sample-capacity", stressor.DefaultSampleCapacity, "maximum sampled keys per worker")
	flags.Float64("rate-limit", 0, "maximum submissions per second across all workers (0 is unlimited)")
	flags.Float64("inject-failure-rate", 0, "fail this fraction of requests before they reach the store (0..1)")
	flags.Bool("drop-keyspace", false, "drop and recreate the keyspace before the run (cql only)")
	flags.Duration("progress-interval", stressor.DefaultProgressInterval, "interval between progress lines (0 disables)")
	flags.String("metrics-listen", stressor.DefaultMetricsListen, "Prometheus scrape endpoint (empty disables)")
	flags.String("pprof-listen", stressor.DefaultPprofListen, "pprof listen address (empty disables)")
	flags.String("otlp-endpoint", "", "OTLP trace collector (host[:port], grpc://, grpcs://, http:// or https://)")
	flags.Bool("enable-profiling-metrics", false, "export Go runtime metrics on the Prometheus endpoint")
	flags.String("report", "", "write the run report as YAML to this path")
	flags.Bool("strict", false, "exit non-zero when validation finds mismatched, missing or unreadable samples")

	bindFlags(v, cmd)

	cmd.AddCommand(newListCommand(baseLogger))
	cmd.AddCommand(newInfoCommand(baseLogger))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	bind := func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	}
	cmd.Flags().VisitAll(bind)
	cmd.PersistentFlags().VisitAll(bind)
	v.SetEnvPrefix("STRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func bindConfig(v *viper.Viper) stressor.Config {
	return stressor.Config{
		Profile:                v.GetString("profile"),
		ProfileArgs:            v.GetStringSlice("args"),
		ArgsFile:               v.GetString("args-file"),
		Store:                  v.GetString("store"),
		Threads:                v.GetInt("threads"),
		Iterations:             v.GetInt64("iterations"),
		ReadRate:               v.GetFloat64("read-rate"),
		Partitions:             v.GetInt64("partitions"),
		Populate:               v.GetInt64("populate"),
		Concurrency:            v.GetInt("concurrency"),
		RunID:                  v.GetString("run-id"),
		Generator:              v.GetString("generator"),
		Seed:                   v.GetUint64("seed"),
		SampleRate:             v.GetFloat64("sample-rate"),
		SampleCapacity:         v.GetInt("sample-capacity"),
		RateLimit:              v.GetFloat64("rate-limit"),
		InjectFailureRate:      v.GetFloat64("inject-failure-rate"),
		DropKeyspace:           v.GetBool("drop-keyspace"),
		ProgressInterval:       v.GetDuration("progress-interval"),
		MetricsListen:          v.GetString("metrics-listen"),
		PprofListen:            v.GetString("pprof-listen"),
		OTLPEndpoint:           v.GetString("otlp-endpoint"),
		EnableProfilingMetrics: v.GetBool("enable-profiling-metrics"),
		ReportPath:             v.GetString("report"),
	}
}

func configureLogger(base pslog.Logger, v *viper.Viper) (pslog.Logger, error) {
	raw := strings.TrimSpace(v.GetString("log-level"))
	if raw == "" {
		return base, nil
	}
	level, ok := pslog.ParseLevel(raw)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", raw)
	}
	return base.LogLevel(level), nil
}

func loadConfigFile(v *viper.Viper) (string, error) {
	cfgPath := strings.TrimSpace(v.GetString("config"))
	if cfgPath == "" {
		return "", nil
	}
	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}
	v.SetConfigFile(expanded)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if len(p) == 1 {
			p = home
		} else if p[1] == '/' || p[1] == '\\' {
			p = filepath.Join(home, p[2:])
		}
	}
	return filepath.Abs(p)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
