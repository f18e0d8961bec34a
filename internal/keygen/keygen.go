// Package keygen produces the partition keys a worker drives load against.
//
// Generators are finite and single-use: the key count is fixed when the
// generator is built, Next hands keys out lazily, and once exhausted a
// generator stays exhausted. Build a new generator to start over.
//
// Every key carries a worker-scoped prefix (see Prefix) so concurrent workers
// never collide on the same logical partition space.
package keygen

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Key identifies one partition. Value is the generator-chosen number; the
// rendered key is Prefix followed by the decimal Value.
type Key struct {
	Prefix string
	Value  int64
}

// String renders the key as it is written to the database.
func (k Key) String() string {
	return k.Prefix + strconv.FormatInt(k.Value, 10)
}

// Generator hands out partition keys until exhausted.
type Generator interface {
	// Next returns the next key, or false once the sequence is exhausted.
	Next() (Key, bool)
	// Len reports the total number of keys the generator yields.
	Len() int64
}

// Kind names a partition key distribution.
type Kind string

const (
	// KindSequence yields 0..N-1 in order.
	KindSequence Kind = "sequence"
	// KindRandom draws uniformly from the key space.
	KindRandom Kind = "random"
	// KindNormal draws from a normal distribution centred on the key space.
	KindNormal Kind = "normal"
)

// Kinds lists the supported distributions.
func Kinds() []Kind {
	return []Kind{KindRandom, KindNormal, KindSequence}
}

// ParseKind resolves a distribution name.
func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindRandom, "":
		return KindRandom, nil
	case KindNormal, "gaussian":
		return KindNormal, nil
	case KindSequence, "sequential":
		return KindSequence, nil
	default:
		return "", fmt.Errorf("keygen: unknown partition generator %q", raw)
	}
}

// Prefix builds the worker-scoped key prefix for a run.
func Prefix(runID string, worker int) string {
	return fmt.Sprintf("%s.%d.", runID, worker)
}

// New builds a generator of the given kind. count is the number of keys to
// yield; keyspace bounds the values drawn by the random distributions and is
// ignored by KindSequence.
func New(kind Kind, prefix string, count, keyspace int64, seed uint64) (Generator, error) {
	switch kind {
	case KindSequence:
		return Sequential(prefix, count), nil
	case KindRandom:
		return Random(prefix, count, keyspace, seed), nil
	case KindNormal:
		return Normal(prefix, count, keyspace, seed), nil
	default:
		return nil, fmt.Errorf("keygen: unknown partition generator %q", kind)
	}
}

// All adapts a generator into a range-over-func iterator. Breaking out of the
// loop leaves the remaining keys in the generator.
func All(g Generator) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for {
			key, ok := g.Next()
			if !ok || !yield(key) {
				return
			}
		}
	}
}

type sequentialKeys struct {
	prefix string
	next   int64
	limit  int64
}

// Sequential yields prefix+0 .. prefix+(n-1) in increasing order. n <= 0
// produces an exhausted generator.
func Sequential(prefix string, n int64) Generator {
	if n < 0 {
		n = 0
	}
	return &sequentialKeys{prefix: prefix, limit: n}
}

func (k *sequentialKeys) Next() (Key, bool) {
	if k.next >= k.limit {
		return Key{}, false
	}
	key := Key{Prefix: k.prefix, Value: k.next}
	k.next++
	return key, true
}

func (k *sequentialKeys) Len() int64 {
	return k.limit
}

type drawnKeys struct {
	prefix   string
	keyspace int64
	limit    int64
	emitted  int64
	draw     func(*rand.Rand, int64) int64
	rng      *rand.Rand
}

func (k *drawnKeys) Next() (Key, bool) {
	if k.emitted >= k.limit {
		return Key{}, false
	}
	k.emitted++
	return Key{Prefix: k.prefix, Value: k.draw(k.rng, k.keyspace)}, true
}

func (k *drawnKeys) Len() int64 {
	return k.limit
}

func newDrawn(prefix string, count, keyspace int64, seed uint64, draw func(*rand.Rand, int64) int64) *drawnKeys {
	if count < 0 {
		count = 0
	}
	if keyspace < 1 {
		keyspace = 1
	}
	return &drawnKeys{
		prefix:   prefix,
		keyspace: keyspace,
		limit:    count,
		draw:     draw,
		rng:      rand.New(rand.NewPCG(seed, seed^0x5bd1e995)),
	}
}

// Random yields count keys drawn independently and uniformly from
// [0, keyspace). Repeats are expected. The same seed yields the same sequence.
func Random(prefix string, count, keyspace int64, seed uint64) Generator {
	return newDrawn(prefix, count, keyspace, seed, func(rng *rand.Rand, n int64) int64 {
		return rng.Int64N(n)
	})
}

// Normal yields count keys drawn from a normal distribution with mean
// keyspace/2 and standard deviation keyspace/6, clamped to [0, keyspace).
func Normal(prefix string, count, keyspace int64, seed uint64) Generator {
	return newDrawn(prefix, count, keyspace, seed, func(rng *rand.Rand, n int64) int64 {
		mean := float64(n) / 2
		stddev := float64(n) / 6
		v := int64(math.Floor(rng.NormFloat64()*stddev + mean))
		return min(max(v, 0), n-1)
	})
}
