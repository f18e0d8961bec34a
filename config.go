package stressor

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/xid"

	"pkt.systems/stressor/internal/keygen"
)

const (
	// DefaultProfile is the workload used when none is named.
	DefaultProfile = "keyvalue"
	// DefaultStore runs against the in-process memory session.
	DefaultStore = "mem://"
	// DefaultThreads is the number of workers.
	DefaultThreads = 4
	// DefaultIterations is the number of run-phase requests per worker.
	DefaultIterations = 100_000
	// DefaultReadRate is the fraction of run-phase requests that are reads.
	DefaultReadRate = 0.5
	// DefaultPartitions bounds the partition values drawn during the run.
	DefaultPartitions = 10_000
	// DefaultConcurrency is the per-worker in-flight request ceiling.
	DefaultConcurrency = 128
	// DefaultGenerator is the run-phase key distribution.
	DefaultGenerator = string(keygen.KindRandom)
	// DefaultSampleRate is the fraction of written keys kept for validation.
	DefaultSampleRate = 0.01
	// DefaultSampleCapacity caps the sampled keys per worker.
	DefaultSampleCapacity = 10_000
	// DefaultProgressInterval controls how often progress lines are logged.
	DefaultProgressInterval = 5 * time.Second
	// DefaultMetricsListen is the Prometheus scrape endpoint. Empty disables it.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener. Empty disables it.
	DefaultPprofListen = ""
)

// Config describes one stress run.
type Config struct {
	Profile     string
	ProfileArgs []string
	ArgsFile    string
	Store       string

	Threads     int
	Iterations  int64
	ReadRate    float64
	Partitions  int64
	Populate    int64
	Concurrency int
	RunID       string
	Generator   string
	Seed        uint64

	SampleRate     float64
	SampleCapacity int

	// RateLimit caps submissions per second across all workers. Zero means
	// unlimited.
	RateLimit float64
	// InjectFailureRate fails this fraction of requests before they reach the
	// store.
	InjectFailureRate float64
	// DropKeyspace drops and recreates the keyspace before the run (cql only).
	DropKeyspace bool

	// ProgressInterval zero disables progress lines.
	ProgressInterval time.Duration

	MetricsListen          string
	PprofListen            string
	OTLPEndpoint           string
	EnableProfilingMetrics bool

	ReportPath string
}

// Validate fills defaults and rejects invalid settings.
func (c *Config) Validate() error {
	c.Profile = strings.TrimSpace(c.Profile)
	if c.Profile == "" {
		c.Profile = DefaultProfile
	}
	c.Store = strings.TrimSpace(c.Store)
	if c.Store == "" {
		c.Store = DefaultStore
	}
	u, err := url.Parse(c.Store)
	if err != nil {
		if !strings.HasPrefix(c.Store, "cql://") {
			return fmt.Errorf("config: parse store URL: %w", err)
		}
	} else {
		switch u.Scheme {
		case "mem", "memory", "cql":
		default:
			return fmt.Errorf("config: unsupported store scheme %q (options: mem, cql)", u.Scheme)
		}
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0")
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Iterations < 0 {
		return fmt.Errorf("config: iterations must be >= 0")
	}
	if c.Populate < 0 {
		return fmt.Errorf("config: populate must be >= 0")
	}
	if c.ReadRate < 0 || c.ReadRate > 1 {
		return fmt.Errorf("config: read rate must be within [0,1], got %v", c.ReadRate)
	}
	if c.Partitions < 0 {
		return fmt.Errorf("config: partitions must be >= 0")
	}
	if c.Partitions == 0 {
		c.Partitions = DefaultPartitions
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("config: concurrency must be >= 0")
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		c.RunID = xid.New().String()
	}
	if strings.ContainsAny(c.RunID, ". \t\n") {
		return fmt.Errorf("config: run id %q must not contain dots or whitespace", c.RunID)
	}
	kind, err := keygen.ParseKind(c.Generator)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Generator = string(kind)
	if c.Seed == 0 {
		c.Seed = uint64(time.Now().UnixNano())
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("config: sample rate must be within [0,1], got %v", c.SampleRate)
	}
	if c.SampleCapacity < 0 {
		return fmt.Errorf("config: sample capacity must be >= 0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate limit must be >= 0")
	}
	if c.InjectFailureRate < 0 || c.InjectFailureRate > 1 {
		return fmt.Errorf("config: inject failure rate must be within [0,1], got %v", c.InjectFailureRate)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("config: progress interval must be >= 0")
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	return nil
}
