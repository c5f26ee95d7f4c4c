package dispatch

import (
	"errors"
	"fmt"

	"github.com/kasuganosora/shardconn/pkg/capability"
)

// ErrNoBackingConnection is returned when an operation needs a backing
// connection and the resolved set is empty.
var ErrNoBackingConnection = errors.New("dispatch: no backing connection")

// ErrIncomplete is reported when an AGGREGATE operation ended without a
// failure but did not reach every backing connection.
var ErrIncomplete = errors.New("dispatch: operation did not reach every backing connection")

// RejectedError is returned for REJECT_STANDARD and REJECT_POLICY
// operations. No backing connection was touched.
type RejectedError struct {
	Operation      capability.Operation
	Classification capability.Classification
}

func (e *RejectedError) Error() string {
	if e.Classification == capability.RejectPolicy {
		return fmt.Sprintf("operation %s is not allowed on a sharded connection", e.Operation)
	}
	return fmt.Sprintf("operation %s is not supported", e.Operation)
}

// Policy reports whether the rejection is a policy violation rather than an
// absent feature.
func (e *RejectedError) Policy() bool {
	return e.Classification == capability.RejectPolicy
}

// ResolveError wraps a failure of the backing connection resolver.
type ResolveError struct {
	Err error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve backing connections: %v", e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// BackingError is the first failure observed while running an operation on
// backing connections. Applied counts the connections that had already
// completed the operation successfully; they are not rolled back.
type BackingError struct {
	Operation capability.Operation
	Shard     string
	Index     int
	Applied   int
	Total     int
	Err       error
}

func (e *BackingError) Error() string {
	if e.Applied > 0 {
		return fmt.Sprintf("%s failed on shard %s (#%d) after %d of %d shards applied it: %v",
			e.Operation, e.Shard, e.Index, e.Applied, e.Total, e.Err)
	}
	return fmt.Sprintf("%s failed on shard %s (#%d): %v", e.Operation, e.Shard, e.Index, e.Err)
}

func (e *BackingError) Unwrap() error { return e.Err }

// Partial reports whether some backing connections applied the operation
// before the failure.
func (e *BackingError) Partial() bool {
	return e.Applied > 0
}

// DivergenceError reports two shards returning different values for an
// operation whose answer must be uniform.
type DivergenceError struct {
	Operation  capability.Operation
	FirstShard string
	FirstValue interface{}
	Shard      string
	Value      interface{}
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%s diverges across shards: %s=%v, %s=%v",
		e.Operation, e.FirstShard, e.FirstValue, e.Shard, e.Value)
}
