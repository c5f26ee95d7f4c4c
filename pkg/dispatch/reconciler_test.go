package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/shardconn/pkg/capability"
)

func TestFold_AllSucceeded(t *testing.T) {
	outcomes := []Outcome{{Index: 0, Shard: "ds_0"}, {Index: 1, Shard: "ds_1"}}
	assert.NoError(t, Fold(capability.OpCommit, outcomes, 2))
}

func TestFold_FirstObservedFailureWins(t *testing.T) {
	first := errors.New("first")
	second := errors.New("second")
	outcomes := []Outcome{
		{Index: 2, Shard: "ds_2"},
		{Index: 1, Shard: "ds_1", Err: first},
		{Index: 0, Shard: "ds_0", Err: second},
	}

	err := Fold(capability.OpRollback, outcomes, 3)

	var backing *BackingError
	require.ErrorAs(t, err, &backing)
	assert.Equal(t, "ds_1", backing.Shard)
	assert.Equal(t, 1, backing.Applied)
	assert.ErrorIs(t, err, first)
	assert.Contains(t, err.Error(), "after 1 of 3 shards applied it")
}

func TestFold_SkippedAreNotApplied(t *testing.T) {
	outcomes := []Outcome{
		{Index: 0, Shard: "ds_0", Err: errors.New("down")},
		{Index: 1, Shard: "ds_1", Err: errors.New("canceled"), Skipped: true},
	}

	err := Fold(capability.OpAbort, outcomes, 2)

	var backing *BackingError
	require.ErrorAs(t, err, &backing)
	assert.Zero(t, backing.Applied)
	assert.False(t, backing.Partial())
}

func TestFold_MissingOutcomesAreNotSuccess(t *testing.T) {
	err := Fold(capability.OpPing, []Outcome{{Index: 0, Shard: "ds_0"}}, 2)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestValues_Uniform(t *testing.T) {
	v, err := Values(capability.OpGetCatalog, []ShardValue[string]{
		{Shard: "ds_0", Value: "foo"},
		{Shard: "ds_1", Value: "foo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "foo", v)
}

func TestValues_Divergence(t *testing.T) {
	_, err := Values(capability.OpGetMetaData, []ShardValue[string]{
		{Shard: "ds_0", Value: "MySQL"},
		{Shard: "ds_1", Value: "MySQL"},
		{Shard: "ds_2", Value: "PostgreSQL"},
	})

	var divergence *DivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Equal(t, "ds_0", divergence.FirstShard)
	assert.Equal(t, "ds_2", divergence.Shard)
	assert.Equal(t, "PostgreSQL", divergence.Value)
}

func TestValues_Empty(t *testing.T) {
	_, err := Values[int](capability.OpGetTransactionIsolation, nil)
	assert.ErrorIs(t, err, ErrNoBackingConnection)
}
