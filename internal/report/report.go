// Package report renders the outcome of a run as a human readable summary and
// as a YAML document.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"pkt.systems/stressor/internal/dispatch"
	"pkt.systems/stressor/internal/metrics"
	"pkt.systems/stressor/internal/workload"
)

// Report is the outcome of one run.
type Report struct {
	RunID       string                   `yaml:"run_id"`
	Version     string                   `yaml:"version"`
	Profile     string                   `yaml:"profile"`
	Store       string                   `yaml:"store"`
	Threads     int                      `yaml:"threads"`
	Started     time.Time                `yaml:"started"`
	Finished    time.Time                `yaml:"finished"`
	Args        map[string]string        `yaml:"args,omitempty"`
	Populate    *dispatch.PhaseResult    `yaml:"populate,omitempty"`
	Run         dispatch.PhaseResult     `yaml:"run"`
	Validation  workload.ValidationStats `yaml:"validation"`
	Counts      metrics.Counts           `yaml:"counts"`
	Latencies   []metrics.LatencySummary `yaml:"latencies,omitempty"`
	Host        *Host                    `yaml:"host,omitempty"`
	Interrupted string                   `yaml:"interrupted,omitempty"`
}

// Throughput returns completed run-phase requests per second.
func (r *Report) Throughput() float64 {
	if r.Run.Elapsed <= 0 {
		return 0
	}
	return float64(r.Run.Completed()) / r.Run.Elapsed.Seconds()
}

// WriteText writes the summary printed at the end of a run.
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	line := func(format string, args ...any) {
		fmt.Fprintf(tw, format+"\n", args...)
	}
	line("run\t%s", r.RunID)
	line("profile\t%s", r.Profile)
	line("store\t%s", r.Store)
	line("threads\t%d", r.Threads)
	if r.Populate != nil {
		line("populate\t%s inserted, %s failed in %s",
			humanize.Comma(int64(r.Populate.Mutations)),
			humanize.Comma(int64(r.Populate.Failed)),
			round(r.Populate.Elapsed))
	}
	line("run\t%s mutations, %s selects, %s errors in %s",
		humanize.Comma(int64(r.Run.Mutations)),
		humanize.Comma(int64(r.Run.Selects)),
		humanize.Comma(int64(r.Run.Failed)),
		round(r.Run.Elapsed))
	line("throughput\t%s ops/s", humanize.CommafWithDigits(r.Throughput(), 1))
	for _, l := range r.Latencies {
		line("latency %s\tp50 %s  p90 %s  p99 %s  max %s  (n=%s)",
			l.Kind, round(l.P50), round(l.P90), round(l.P99), round(l.Max), humanize.Comma(l.Count))
	}
	v := r.Validation
	status := "ok"
	if !v.OK() {
		status = "FAILED"
	}
	line("validation\t%s: %d sampled, %d matched (%.1f%%), %d mismatched, %d missing, %d errors",
		status, v.Sampled, v.Matched, v.MatchRatio()*100, v.Mismatched, v.Missing, v.Errors)
	if r.Host != nil {
		line("client host\t%s, %d cpus, %.1f%% cpu during run, %s memory",
			r.Host.Hostname, r.Host.CPUs, r.Host.CPUPercent, humanize.IBytes(r.Host.MemoryTotal))
	}
	if r.Interrupted != "" {
		line("interrupted\t%s", r.Interrupted)
	}
	return tw.Flush()
}

// WriteYAML writes r to path, creating parent directories as needed.
func WriteYAML(path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("report: encode: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report: create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}

func round(d time.Duration) string {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond).String()
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond).String()
	default:
		return strings.TrimSpace(d.String())
	}
}
