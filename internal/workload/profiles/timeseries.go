package profiles

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/sampler"
	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/workload"
)

const (
	timeSeriesTable = "series"
	// DefaultSelectLimit bounds the rows returned by a timeseries read.
	DefaultSelectLimit = 10
	// DefaultValueMax bounds generated sample values.
	DefaultValueMax = 1000.0
)

// TimeSeries appends points to a partition clustered by a time-based UUID and
// reads back the most recent points.
type TimeSeries struct {
	logger pslog.Logger
}

// NewTimeSeries returns the timeseries profile.
func NewTimeSeries(logger pslog.Logger) *TimeSeries {
	return &TimeSeries{logger: logger}
}

func (*TimeSeries) Name() string { return "timeseries" }

func (*TimeSeries) Description() string {
	return "series key with time-uuid clustered points; writes append, reads fetch the latest points"
}

func (*TimeSeries) Args() []workload.ArgSpec {
	return []workload.ArgSpec{
		{Name: "select-limit", Default: strconv.Itoa(DefaultSelectLimit), Description: "points returned per read"},
		{Name: "value-max", Default: strconv.FormatFloat(DefaultValueMax, 'g', -1, 64), Description: "upper bound of generated point values"},
	}
}

func (*TimeSeries) Schema(keyspace string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (series text, ts timeuuid, value double, PRIMARY KEY (series, ts)) WITH CLUSTERING ORDER BY (ts DESC)",
			keyspace, timeSeriesTable),
	}
}

func (p *TimeSeries) Prepare(ctx context.Context, sess session.Session, keyspace string) error {
	return workload.ApplySchema(ctx, sess, timeSeriesTable, p.Schema(keyspace))
}

func (p *TimeSeries) Runner(args workload.Args, seed uint64) (workload.Runner, error) {
	if unknown := args.Unknown(p.Args()); len(unknown) > 0 {
		return nil, fmt.Errorf("timeseries: unknown arguments %v", unknown)
	}
	limit, err := args.Int("select-limit", DefaultSelectLimit)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		return nil, fmt.Errorf("timeseries: select-limit must be positive, got %d", limit)
	}
	valueMax, err := args.Float("value-max", DefaultValueMax)
	if err != nil {
		return nil, err
	}
	if valueMax <= 0 {
		return nil, fmt.Errorf("timeseries: value-max must be positive, got %v", valueMax)
	}
	return &timeSeriesRunner{limit: limit, valueMax: valueMax, rng: newRand(seed)}, nil
}

func (p *TimeSeries) Sampler(sess session.Session, rate float64, capacity int) workload.Sampler {
	return sampler.New(sess, timeSeriesLookup, rate, capacity, p.logger)
}

func timeSeriesLookup(key string, fields workload.Fields) session.Statement {
	ts := fields["ts"]
	return session.Statement{
		Kind:       session.KindRead,
		Table:      timeSeriesTable,
		Partition:  key,
		Clustering: ts,
		Query:      "SELECT ts, value FROM " + timeSeriesTable + " WHERE series = ? AND ts = ?",
		Args:       []any{key, ts},
	}
}

type timeSeriesRunner struct {
	limit    int
	valueMax float64
	rng      *rand.Rand
}

func (r *timeSeriesRunner) NextMutation(key keygen.Key) workload.Mutation {
	ts := uuid.Must(uuid.NewUUID()).String()
	point := r.rng.Float64() * r.valueMax
	value := strconv.FormatFloat(point, 'g', -1, 64)
	k := key.String()
	return workload.Mutation{
		Statement: session.Statement{
			Kind:       session.KindWrite,
			Table:      timeSeriesTable,
			Partition:  k,
			Clustering: ts,
			Values:     session.Row{"ts": ts, "value": value},
			Query:      "INSERT INTO " + timeSeriesTable + " (series, ts, value) VALUES (?, ?, ?)",
			Args:       []any{k, ts, point},
		},
		Key:    k,
		Fields: workload.Fields{"ts": ts, "value": value},
	}
}

func (r *timeSeriesRunner) NextSelect(key keygen.Key) workload.Read {
	k := key.String()
	return workload.Read{Statement: session.Statement{
		Kind:      session.KindRead,
		Table:     timeSeriesTable,
		Partition: k,
		Query:     "SELECT ts, value FROM " + timeSeriesTable + " WHERE series = ? LIMIT ?",
		Args:      []any{k, r.limit},
	}}
}
