package profiles

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand/v2"

	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/keygen"
	"pkt.systems/stressor/internal/sampler"
	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/workload"
)

const (
	keyValueTable = "kv"
	// DefaultValueSize is the length of generated keyvalue values.
	DefaultValueSize = 32
)

// KeyValue writes random text values under text keys and reads them back by
// key.
type KeyValue struct {
	logger pslog.Logger
}

// NewKeyValue returns the keyvalue profile.
func NewKeyValue(logger pslog.Logger) *KeyValue {
	return &KeyValue{logger: logger}
}

func (*KeyValue) Name() string { return "keyvalue" }

func (*KeyValue) Description() string {
	return "text key to text value; writes upsert a random value, reads select by key"
}

func (*KeyValue) Args() []workload.ArgSpec {
	return []workload.ArgSpec{
		{Name: "value-size", Default: fmt.Sprint(DefaultValueSize), Description: "length in characters of generated values"},
	}
}

func (*KeyValue) Schema(keyspace string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (key text PRIMARY KEY, value text)", keyspace, keyValueTable),
	}
}

func (p *KeyValue) Prepare(ctx context.Context, sess session.Session, keyspace string) error {
	return workload.ApplySchema(ctx, sess, keyValueTable, p.Schema(keyspace))
}

func (p *KeyValue) Runner(args workload.Args, seed uint64) (workload.Runner, error) {
	if unknown := args.Unknown(p.Args()); len(unknown) > 0 {
		return nil, fmt.Errorf("keyvalue: unknown arguments %v", unknown)
	}
	size, err := args.Int("value-size", DefaultValueSize)
	if err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, fmt.Errorf("keyvalue: value-size must be positive, got %d", size)
	}
	return &keyValueRunner{size: size, rng: newRand(seed), buf: make([]byte, (size+1)/2)}, nil
}

func (p *KeyValue) Sampler(sess session.Session, rate float64, capacity int) workload.Sampler {
	return sampler.New(sess, keyValueLookup, rate, capacity, p.logger)
}

func keyValueLookup(key string, _ workload.Fields) session.Statement {
	return session.Statement{
		Kind:      session.KindRead,
		Table:     keyValueTable,
		Partition: key,
		Query:     "SELECT value FROM " + keyValueTable + " WHERE key = ?",
		Args:      []any{key},
	}
}

type keyValueRunner struct {
	size int
	rng  *rand.Rand
	buf  []byte
}

func (r *keyValueRunner) NextMutation(key keygen.Key) workload.Mutation {
	for i := range r.buf {
		r.buf[i] = byte(r.rng.Uint32())
	}
	value := hex.EncodeToString(r.buf)[:r.size]
	k := key.String()
	return workload.Mutation{
		Statement: session.Statement{
			Kind:      session.KindWrite,
			Table:     keyValueTable,
			Partition: k,
			Values:    session.Row{"value": value},
			Query:     "INSERT INTO " + keyValueTable + " (key, value) VALUES (?, ?)",
			Args:      []any{k, value},
		},
		Key:    k,
		Fields: workload.Fields{"value": value},
	}
}

func (r *keyValueRunner) NextSelect(key keygen.Key) workload.Read {
	return workload.Read{Statement: keyValueLookup(key.String(), nil)}
}
