// Package workload defines the boundary between the dispatcher and the
// workload profiles: the operation model, the profile and runner
// capabilities, the sampler capability and profile arguments.
package workload

import (
	"math"
	"math/rand/v2"

	"pkt.systems/stressor/internal/session"
)

// Fields is the column mapping carried by a mutation and snapshotted by the
// sampler.
type Fields = session.Row

// Operation is a single request produced by a Runner. The set of operations is
// closed: Mutation and Read are the only implementations.
type Operation interface {
	operation()
	// Request returns the statement to send to the session.
	Request() session.Statement
}

// Mutation writes Fields to the partition named by Key.
type Mutation struct {
	Statement session.Statement
	Key       string
	Fields    Fields
}

func (Mutation) operation() {}

// Request implements Operation.
func (m Mutation) Request() session.Statement { return m.Statement }

// Read selects from a partition. Its result is discarded.
type Read struct {
	Statement session.Statement
}

func (Read) operation() {}

// Request implements Operation.
func (r Read) Request() session.Statement { return r.Statement }

// ReadThreshold converts a read rate in [0,1] to the integer threshold used by
// ChooseRead.
func ReadThreshold(readRate float64) int {
	return int(math.Round(min(max(readRate, 0), 1) * 100))
}

// ChooseRead draws a uniform integer in [0,100) and reports whether the next
// operation should be a read. readRate 0 never reads and readRate 1 always
// does.
func ChooseRead(rng *rand.Rand, readRate float64) bool {
	return ReadThreshold(readRate) > rng.IntN(100)
}
