package stressor

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/stressor/internal/session"
	"pkt.systems/stressor/internal/session/cql"
	"pkt.systems/stressor/internal/session/memory"
)

// openSession builds the session named by cfg.Store and returns it with the
// keyspace the profile schema should be created in. When InjectFailureRate is
// set, or the mem:// URL carries failure-rate, the session is wrapped in a
// failure injector.
func openSession(ctx context.Context, cfg Config, logger pslog.Logger) (session.Session, string, error) {
	var (
		sess        session.Session
		keyspace    string
		failureRate = cfg.InjectFailureRate
	)
	switch {
	case strings.HasPrefix(cfg.Store, "cql://"):
		cqlCfg, err := cql.ParseURL(cfg.Store)
		if err != nil {
			return nil, "", err
		}
		cqlCfg.DropKeyspace = cfg.DropKeyspace
		cqlCfg.Logger = logger
		cs, err := cql.Open(ctx, cqlCfg)
		if err != nil {
			return nil, "", err
		}
		sess, keyspace = cs, cs.Keyspace()
	default:
		memCfg, rate, ks, err := BuildMemoryConfig(cfg.Store)
		if err != nil {
			return nil, "", err
		}
		memCfg.Seed = cfg.Seed
		memCfg.Logger = logger
		sess, keyspace = memory.NewWithConfig(memCfg), ks
		if failureRate == 0 {
			failureRate = rate
		}
	}
	if failureRate > 0 {
		sess = session.NewFaulty(sess, failureRate, cfg.Seed, logger)
	}
	return sess, keyspace, nil
}

// BuildMemoryConfig parses mem://[keyspace][?latency=&jitter=&failure-rate=]
// into a memory session config, the URL's failure rate and the keyspace name.
func BuildMemoryConfig(raw string) (memory.Config, float64, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return memory.Config{}, 0, "", fmt.Errorf("parse store URL: %w", err)
	}
	switch u.Scheme {
	case "mem", "memory", "":
	default:
		return memory.Config{}, 0, "", fmt.Errorf("store: %q is not a memory URL", raw)
	}
	keyspace := strings.Trim(u.Host+u.Path, "/")
	if keyspace == "" {
		keyspace = cql.DefaultKeyspace
	}
	var cfg memory.Config
	q := u.Query()
	for name, target := range map[string]*time.Duration{
		"latency": &cfg.Latency,
		"jitter":  &cfg.Jitter,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return memory.Config{}, 0, "", fmt.Errorf("store: %s %q must be a non-negative duration", name, v)
		}
		*target = d
	}
	var rate float64
	if v := q.Get("failure-rate"); v != "" {
		rate, err = strconv.ParseFloat(v, 64)
		if err != nil || rate < 0 || rate > 1 {
			return memory.Config{}, 0, "", fmt.Errorf("store: failure-rate %q must be within [0,1]", v)
		}
	}
	return cfg, rate, keyspace, nil
}
