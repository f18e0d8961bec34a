// Package profiles holds the built-in workload profiles.
package profiles

import (
	"math/rand/v2"

	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/workload"
)

// Default returns a registry holding every built-in profile. Samplers built by
// the profiles log through logger.
func Default(logger pslog.Logger) *workload.Registry {
	reg := workload.NewRegistry()
	for _, p := range []workload.Profile{
		NewKeyValue(logger),
		NewTimeSeries(logger),
	} {
		if err := reg.Register(p); err != nil {
			panic(err)
		}
	}
	return reg
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
