package stressor

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/loggingutil"
	"pkt.systems/stressor/internal/metrics"
)

// startProgress logs request counts every interval until the returned stop
// function is called. stop blocks until the reporter has exited. A zero
// interval disables the reporter.
func startProgress(ctx context.Context, interval time.Duration, rec *metrics.Recorder, expected uint64, logger pslog.Logger) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	logger = loggingutil.WithSubsystem(logger, "stressor.progress")
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := rec.Counts()
		lastAt := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				counts := rec.Counts()
				delta := counts.Total() - last.Total()
				rate := float64(delta) / now.Sub(lastAt).Seconds()
				fields := []any{
					"completed", humanize.Comma(int64(counts.Total())),
					"inserts", counts.Inserts,
					"mutations", counts.Mutations,
					"selects", counts.Selects,
					"errors", counts.Errors,
					"ops_per_sec", humanize.CommafWithDigits(rate, 1),
				}
				if expected > 0 {
					fields = append(fields, "progress", humanize.FtoaWithDigits(100*float64(counts.Total())/float64(expected), 1)+"%")
				}
				logger.Info("stressor.progress", fields...)
				last, lastAt = counts, now
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
