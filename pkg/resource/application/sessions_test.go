package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/testutils"
)

func sessionManager(t *testing.T, names ...string) (*DataSourceManager, []*testutils.StubSessionSource) {
	t.Helper()
	m := NewDataSourceManager()
	shards := make([]*testutils.StubSessionSource, len(names))
	for i, name := range names {
		shards[i] = testutils.NewStubSessionSource(name)
		require.NoError(t, shards[i].Connect(context.Background()))
		require.NoError(t, m.Register("orders", shards[i]))
	}
	return m, shards
}

func TestSessionResolver_OpensOneSessionPerShard(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0", "ds_1")
	r := NewSessionResolver(m)

	first, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)

	assert.Equal(t, []string{"ds_0", "ds_1"}, shardNames(first))
	assert.Equal(t, first, second)
	for i, shard := range shards {
		require.Len(t, shard.Sessions(), 1)
		assert.Same(t, shard.Sessions()[0], first[i])
		assert.NotSame(t, shard.StubConn, first[i].(*testutils.StubSession).StubConn)
	}
	assert.Equal(t, 2, r.Len())
}

func TestSessionResolver_CallersDoNotShareSessions(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0")
	a := NewSessionResolver(m)
	b := NewSessionResolver(m)

	connsA, err := a.Resolve(ctx, "orders")
	require.NoError(t, err)
	connsB, err := b.Resolve(ctx, "orders")
	require.NoError(t, err)

	assert.NotSame(t, connsA[0], connsB[0])
	assert.Len(t, shards[0].Sessions(), 2)

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, shards[0].Sessions()[0].Closes())
	assert.Zero(t, shards[0].Sessions()[1].Closes())
}

func TestSessionResolver_SharedShardsPassThrough(t *testing.T) {
	ctx := context.Background()
	m := NewDataSourceManager()
	plain := connectedStub(t, "ds_0")
	require.NoError(t, m.Register("orders", plain))

	conns, err := NewSessionResolver(m).Resolve(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Same(t, plain, conns[0])
}

func TestSessionResolver_PrepareRunsOnNewSessions(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0", "ds_1")
	r := NewSessionResolver(m)

	var prepared []string
	r.SetPrepare(func(ctx context.Context, conn domain.BackingConn) error {
		prepared = append(prepared, conn.Name())
		return conn.SetAutoCommit(ctx, false)
	})

	_, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)
	_, err = r.Resolve(ctx, "orders")
	require.NoError(t, err)

	assert.Equal(t, []string{"ds_0", "ds_1"}, prepared)
	for _, shard := range shards {
		assert.Equal(t, 1, shard.Sessions()[0].Calls("SetAutoCommit"))
	}
}

func TestSessionResolver_PrepareFailureClosesSession(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0")
	r := NewSessionResolver(m)
	r.SetPrepare(func(ctx context.Context, conn domain.BackingConn) error {
		return testutils.ErrInjected
	})

	_, err := r.Resolve(ctx, "orders")
	require.Error(t, err)
	assert.ErrorIs(t, err, testutils.ErrInjected)
	assert.Contains(t, err.Error(), "ds_0")
	assert.Equal(t, 1, shards[0].Sessions()[0].Closes())
	assert.Zero(t, r.Len())
}

func TestSessionResolver_OpenFailure(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0", "ds_1")
	shards[1].OpenErr = testutils.ErrInjected

	_, err := NewSessionResolver(m).Resolve(ctx, "orders")
	assert.ErrorIs(t, err, testutils.ErrInjected)
	assert.Contains(t, err.Error(), "open session on shard ds_1")
}

func TestSessionResolver_ReplacedAndRemovedShards(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0", "ds_1")
	r := NewSessionResolver(m)

	_, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, m.Unregister(ctx, "ds_1"))
	conns, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_0"}, shardNames(conns))
	assert.Equal(t, 1, shards[1].Sessions()[0].Closes())
	assert.Equal(t, 1, r.Len())

	replacement := testutils.NewStubSessionSource("ds_1")
	require.NoError(t, replacement.Connect(ctx))
	require.NoError(t, m.Register("orders", replacement))
	conns, err = r.Resolve(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"ds_0", "ds_1"}, shardNames(conns))
	require.Len(t, replacement.Sessions(), 1)
	assert.Same(t, replacement.Sessions()[0], conns[1])
}

func TestSessionResolver_Close(t *testing.T) {
	ctx := context.Background()
	m, shards := sessionManager(t, "ds_0", "ds_1")
	r := NewSessionResolver(m)

	_, err := r.Resolve(ctx, "orders")
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx))
	require.NoError(t, r.Close(ctx))
	for _, shard := range shards {
		assert.Equal(t, 1, shard.Sessions()[0].Closes())
	}

	_, err = r.Resolve(ctx, "orders")
	assert.True(t, errors.Is(err, ErrSessionsClosed))
}

func TestSessionResolver_SourceErrorPassesThrough(t *testing.T) {
	m := NewDataSourceManager()
	_, err := NewSessionResolver(m).Resolve(context.Background(), "missing")
	var notFound *domain.ErrLogicalDatabaseNotFound
	assert.ErrorAs(t, err, &notFound)
}
