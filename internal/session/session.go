// Package session defines the database session capability the dispatcher
// drives, plus decorators shared by every backend.
//
// A Statement carries both a structured description (table, partition,
// clustering, values) and the equivalent CQL text with bind arguments.
// Backends pick whichever form they understand: the in-memory store works off
// the structured fields, the CQL backend sends Query and Args to the cluster.
package session

import (
	"context"
	"errors"
	"maps"
)

// Kind classifies a statement.
type Kind int

const (
	// KindWrite upserts Values into the row addressed by Partition/Clustering.
	KindWrite Kind = iota
	// KindRead selects the row(s) addressed by Partition and, when set,
	// Clustering.
	KindRead
	// KindSchema is a DDL statement. It never produces rows.
	KindSchema
)

func (k Kind) String() string {
	switch k {
	case KindWrite:
		return "write"
	case KindRead:
		return "read"
	case KindSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// Row maps column names to their rendered values.
type Row map[string]string

// Clone returns a copy of r that shares no storage with it.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return maps.Clone(r)
}

// Statement is a single request sent to a session.
type Statement struct {
	Kind       Kind
	Table      string
	Partition  string
	Clustering string
	Values     Row
	Query      string
	Args       []any
}

// Result carries the rows returned by a read. Writes and schema statements
// return an empty result.
type Result struct {
	Rows []Row
}

// First returns the first row of the result, if any.
func (r Result) First() (Row, bool) {
	if len(r.Rows) == 0 {
		return nil, false
	}
	return r.Rows[0], true
}

// Callback receives the outcome of an asynchronous statement.
type Callback func(Result, error)

// Session executes statements against a database.
type Session interface {
	// ExecuteAsync submits stmt and returns without waiting for the outcome.
	// done is invoked exactly once, on a goroutine owned by the session, with
	// either the result or the failure.
	ExecuteAsync(ctx context.Context, stmt Statement, done Callback)
	// Execute runs stmt synchronously.
	Execute(ctx context.Context, stmt Statement) (Result, error)
	// Close waits for outstanding callbacks and releases the session.
	Close() error
}

var (
	// ErrInjected is returned for requests failed on purpose by Faulty.
	ErrInjected = errors.New("session: injected failure")
	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("session: closed")
)
