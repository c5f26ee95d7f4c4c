package dispatch

import "github.com/kasuganosora/shardconn/pkg/capability"

// Outcome is the result of one backing connection call.
type Outcome struct {
	Index int
	Shard string
	Err   error
	// Skipped is set when the call never started because the operation had
	// already failed or its context was done.
	Skipped bool
}

// Fold reconciles the outcomes of an AGGREGATE operation, listed in the
// order they were observed. It succeeds only when every one of total
// connections succeeded; otherwise it reports the first observed failure.
func Fold(op capability.Operation, outcomes []Outcome, total int) error {
	applied := 0
	for _, o := range outcomes {
		if o.Err == nil && !o.Skipped {
			applied++
		}
	}

	for _, o := range outcomes {
		if o.Err != nil {
			return &BackingError{
				Operation: op,
				Shard:     o.Shard,
				Index:     o.Index,
				Applied:   applied,
				Total:     total,
				Err:       o.Err,
			}
		}
	}

	if applied != total {
		// Nothing failed but not everything ran: the caller must not see this
		// as success.
		return &BackingError{
			Operation: op,
			Index:     applied,
			Applied:   applied,
			Total:     total,
			Err:       ErrIncomplete,
		}
	}
	return nil
}

// ShardValue is a value returned by one shard.
type ShardValue[T comparable] struct {
	Shard string
	Value T
}

// Values reconciles values returned by several shards. Equal values collapse
// to one; any difference is a DivergenceError rather than a silent pick.
func Values[T comparable](op capability.Operation, values []ShardValue[T]) (T, error) {
	var zero T
	if len(values) == 0 {
		return zero, ErrNoBackingConnection
	}

	first := values[0]
	for _, v := range values[1:] {
		if v.Value != first.Value {
			return zero, &DivergenceError{
				Operation:  op,
				FirstShard: first.Shard,
				FirstValue: first.Value,
				Shard:      v.Shard,
				Value:      v.Value,
			}
		}
	}
	return first.Value, nil
}
