// Package stressor drives read/write load against a CQL cluster (or an
// in-process memory store), keeps the number of in-flight requests per worker
// under a fixed ceiling and validates a sample of what it wrote once the run
// has drained.
//
// # Phases
//
// Every worker owns an admission gate with Config.Concurrency permits and
// runs up to three phases:
//
//   - populate: Config.Populate sequential keys are written.
//   - run: Config.Iterations keys are drawn from Config.Partitions values
//     using Config.Generator; each request is a read with probability
//     Config.ReadRate and a write otherwise.
//   - validate: the worker's sampler re-reads the keys it kept and compares
//     them with the values that were acknowledged.
//
// A phase only ends once every permit is back in the gate, so the next phase
// never overlaps with the previous one.
//
// # Embedding
//
//	cfg := stressor.Config{
//	    Store:       "cql://10.0.0.1,10.0.0.2/bench?consistency=local_quorum",
//	    Profile:     "keyvalue",
//	    Threads:     8,
//	    Concurrency: 256,
//	    Populate:    100_000,
//	    Iterations:  1_000_000,
//	    ReadRate:    0.3,
//	}
//	rep, err := stressor.Run(ctx, cfg, logger)
//	if err != nil { log.Fatal(err) }
//	_ = report.WriteText(os.Stdout, rep)
//
// # Stores
//
// mem://[keyspace]?latency=2ms&jitter=1ms&failure-rate=0.01 selects the
// memory store with optional artificial latency and failures.
// cql://host[:port][,host...]/keyspace?consistency=quorum&replication=3
// connects to a Cassandra or ScyllaDB cluster, creating the keyspace and the
// profile tables when missing.
package stressor
