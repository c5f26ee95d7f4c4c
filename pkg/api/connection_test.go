package api

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/shardconn/pkg/capability"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/testutils"
)

func newStubConnection(t *testing.T, stubs []*testutils.StubConn, mutate ...func(*ConnectionOptions)) *Connection {
	t.Helper()
	opts := ConnectionOptions{
		Database: "logic_db",
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return testutils.AsBacking(stubs), nil
		}),
	}
	for _, m := range mutate {
		m(&opts)
	}
	conn, err := NewConnection(opts)
	require.NoError(t, err)
	return conn
}

func TestNewConnection_Validation(t *testing.T) {
	_, err := NewConnection(ConnectionOptions{})
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))

	resolver := domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) { return nil, nil })
	_, err = NewConnection(ConnectionOptions{Resolver: resolver, NetworkTimeout: -time.Second})
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))

	_, err = NewConnection(ConnectionOptions{Resolver: resolver, MaxFanout: -1})
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))

	conn, err := NewConnection(ConnectionOptions{Resolver: resolver, Database: "db"})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID())
	assert.Equal(t, "db", conn.Database())
}

func TestConnection_StandardUnsupportedOperations(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)

	calls := map[string]func() error{
		"PrepareCall": func() error { _, err := conn.PrepareCall("{call p()}"); return err },
		"PrepareCallWithResultSet": func() error {
			_, err := conn.PrepareCallWithResultSet("{call p()}", 1003, 1007)
			return err
		},
		"PrepareCallWithHoldability": func() error {
			_, err := conn.PrepareCallWithHoldability("{call p()}", 1003, 1007, HoldCursorsOverCommit)
			return err
		},
		"NativeSQL":       func() error { _, err := conn.NativeSQL("SELECT 1"); return err },
		"TypeMap":         func() error { _, err := conn.TypeMap(); return err },
		"SetTypeMap":      func() error { return conn.SetTypeMap(nil) },
		"CreateArrayOf":   func() error { _, err := conn.CreateArrayOf("int", []interface{}{1}); return err },
		"CreateBlob":      func() error { _, err := conn.CreateBlob(); return err },
		"CreateClob":      func() error { _, err := conn.CreateClob(); return err },
		"CreateNClob":     func() error { _, err := conn.CreateNClob(); return err },
		"CreateSQLXML":    func() error { _, err := conn.CreateSQLXML(); return err },
		"CreateStruct":    func() error { _, err := conn.CreateStruct("point", nil); return err },
		"ClientInfo":      func() error { _, err := conn.ClientInfo(); return err },
		"ClientInfoValue": func() error { _, err := conn.ClientInfoValue("ApplicationName"); return err },
	}

	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			err := call()
			require.Error(t, err)
			assert.True(t, IsErrorCode(err, ErrCodeNotSupported), "got %v", err)
			assert.ErrorIs(t, err, errors.ErrUnsupported)
			assert.ErrorIs(t, err, ErrNotSupported)
		})
	}

	assert.Zero(t, testutils.TotalCalls(stubs))
}

func TestConnection_SetClientInfoIsPolicyViolation(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	conn := newStubConnection(t, stubs)

	err := conn.SetClientInfo("ApplicationName", "billing")
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodePolicyViolation))
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.NotErrorIs(t, err, errors.ErrUnsupported)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "set-client-info/key-value", apiErr.Operation)
	assert.NotEmpty(t, apiErr.StackTrace())

	err = conn.SetClientInfoProperties(map[string]string{"ApplicationName": "billing"})
	assert.True(t, IsErrorCode(err, ErrCodePolicyViolation))

	assert.Zero(t, testutils.TotalCalls(stubs))
}

func TestConnection_PrepareCallIsStandardUnsupported(t *testing.T) {
	conn := newStubConnection(t, nil)

	stmt, err := conn.PrepareCall("{call refresh()}")
	assert.Nil(t, stmt)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Equal(t, ErrCodeNotSupported, GetErrorCode(err))
}

func TestConnection_NetworkTimeoutRoundTrip(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)

	require.NoError(t, conn.SetNetworkTimeout(500*time.Millisecond))
	timeout, err := conn.NetworkTimeout()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, timeout)

	err = conn.SetNetworkTimeout(-time.Millisecond)
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam))
	timeout, _ = conn.NetworkTimeout()
	assert.Equal(t, 500*time.Millisecond, timeout)

	assert.Zero(t, testutils.TotalCalls(stubs))
}

func TestConnection_NoopStateRoundTrip(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)

	h, err := conn.Holdability()
	require.NoError(t, err)
	assert.Equal(t, HoldCursorsOverCommit, h)
	require.NoError(t, conn.SetHoldability(CloseCursorsAtCommit))
	h, _ = conn.Holdability()
	assert.Equal(t, CloseCursorsAtCommit, h)
	assert.True(t, IsErrorCode(conn.SetHoldability(Holdability(42)), ErrCodeInvalidParam))

	autoCommit, err := conn.AutoCommit()
	require.NoError(t, err)
	assert.True(t, autoCommit)

	readOnly, err := conn.IsReadOnly()
	require.NoError(t, err)
	assert.False(t, readOnly)

	require.NoError(t, conn.SetCatalog("other"))
	require.NoError(t, conn.SetSchema("archive"))
	snapshot := conn.Snapshot()
	assert.Equal(t, "other", snapshot.Catalog)
	assert.Equal(t, "archive", snapshot.Schema)

	assert.False(t, conn.IsClosed())
	assert.Zero(t, testutils.TotalCalls(stubs))
}

func TestConnection_DelegateWithoutBackingConnection(t *testing.T) {
	conn := newStubConnection(t, nil)

	_, err := conn.Catalog(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeNoBackingConnection))
	assert.ErrorIs(t, err, ErrNoBackingConnection)

	_, err = conn.QueryContext(context.Background(), "SELECT 1")
	assert.True(t, IsErrorCode(err, ErrCodeNoBackingConnection))
}

func TestConnection_AggregateWithoutBackingConnectionSucceeds(t *testing.T) {
	conn := newStubConnection(t, nil)

	require.NoError(t, conn.Ping(context.Background()))
	require.NoError(t, conn.SetAutoCommit(context.Background(), false))
	autoCommit, _ := conn.AutoCommit()
	assert.False(t, autoCommit)
}

func TestConnection_DelegateUsesFirstConnection(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	stubs[0].CatalogName = "shard_zero"
	stubs[0].Isolation = sql.LevelRepeatableRead
	stubs[0].WarningList = []domain.Warning{{Level: "Warning", Code: 1265, Message: "truncated"}}
	conn := newStubConnection(t, stubs)
	ctx := context.Background()

	catalog, err := conn.Catalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shard_zero", catalog)

	schema, err := conn.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, "public", schema)

	md, err := conn.MetaData(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ds_0", md.DataSource)

	level, err := conn.TransactionIsolation(ctx)
	require.NoError(t, err)
	assert.Equal(t, sql.LevelRepeatableRead, level)

	warnings, err := conn.Warnings(ctx)
	require.NoError(t, err)
	assert.Len(t, warnings, 1)

	res, err := conn.ExecContext(ctx, "UPDATE t SET a = 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)

	q, err := conn.QueryContext(ctx, "SELECT shard")
	require.NoError(t, err)
	require.True(t, q.Next())
	var shard string
	require.NoError(t, q.Scan(&shard))
	assert.Equal(t, "ds_0", shard)

	assert.Equal(t, 7, stubs[0].TotalCalls())
	assert.Zero(t, stubs[1].TotalCalls())
	assert.Zero(t, stubs[2].TotalCalls())
}

func TestConnection_DelegateFailure(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	stubs[0].FailOn("Catalog", testutils.ErrInjected)
	conn := newStubConnection(t, stubs)

	_, err := conn.Catalog(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))
	assert.ErrorIs(t, err, testutils.ErrInjected)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ds_0", apiErr.Shard)
	assert.False(t, apiErr.Partial())
	assert.Zero(t, stubs[1].TotalCalls())
}

func TestConnection_AggregateReachesEveryConnection(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	conn := newStubConnection(t, stubs)
	ctx := context.Background()

	require.NoError(t, conn.Ping(ctx))
	require.NoError(t, conn.ClearWarnings(ctx))
	require.NoError(t, conn.SetTransactionIsolation(ctx, sql.LevelSerializable))
	require.NoError(t, conn.SetReadOnly(ctx, true))

	for _, s := range stubs {
		assert.Equal(t, 1, s.Calls("Ping"))
		assert.Equal(t, 1, s.Calls("ClearWarnings"))
		assert.Equal(t, 1, s.Calls("SetTransactionIsolation"))
		assert.Equal(t, 1, s.Calls("SetReadOnly"))
	}

	readOnly, _ := conn.IsReadOnly()
	assert.True(t, readOnly)
	assert.Equal(t, sql.LevelSerializable, conn.Snapshot().Isolation)
}

func TestConnection_AbortFailsFastOnSecondShard(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	stubs[1].FailOn("Abort", testutils.ErrInjected)
	conn := newStubConnection(t, stubs)

	err := conn.Abort(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))
	assert.ErrorIs(t, err, testutils.ErrInjected)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ds_1", apiErr.Shard)
	assert.Equal(t, "abort", apiErr.Operation)
	assert.Equal(t, 1, apiErr.Applied)
	assert.Equal(t, 3, apiErr.Total)
	assert.True(t, apiErr.Partial())

	assert.Equal(t, 1, stubs[0].Calls("Abort"))
	assert.Equal(t, 1, stubs[1].Calls("Abort"))
	assert.Zero(t, stubs[2].Calls("Abort"))

	// 失败的 Abort 不关闭连接
	assert.False(t, conn.IsClosed())
}

func TestConnection_AbortClosesConnection(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)

	require.NoError(t, conn.Abort(context.Background()))
	assert.True(t, conn.IsClosed())
	for _, s := range stubs {
		assert.Equal(t, 1, s.Calls("Abort"))
	}

	assert.True(t, IsErrorCode(conn.Abort(context.Background()), ErrCodeClosed))
	assert.NoError(t, conn.Close())
}

func TestConnection_OperationsAfterClose(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	assert.True(t, conn.IsClosed())

	ctx := context.Background()
	checks := map[string]error{
		"Ping":          conn.Ping(ctx),
		"SetAutoCommit": conn.SetAutoCommit(ctx, false),
		"SetClientInfo": conn.SetClientInfo("a", "b"),
		"SetCatalog":    conn.SetCatalog("x"),
	}
	_, checks["Catalog"] = conn.Catalog(ctx)
	_, checks["PrepareCall"] = conn.PrepareCall("{call p()}")
	_, checks["NetworkTimeout"] = conn.NetworkTimeout()
	_, checks["BeginTx"] = conn.BeginTx(ctx, nil)

	for name, err := range checks {
		assert.True(t, IsErrorCode(err, ErrCodeClosed), "%s: %v", name, err)
		assert.ErrorIs(t, err, ErrClosed, name)
	}
	assert.Zero(t, testutils.TotalCalls(stubs))
}

func TestConnection_StateUpdatedOnlyAfterSuccess(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	stubs[1].FailOn("SetAutoCommit", testutils.ErrInjected)
	conn := newStubConnection(t, stubs)

	err := conn.SetAutoCommit(context.Background(), false)
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))

	autoCommit, _ := conn.AutoCommit()
	assert.True(t, autoCommit)
}

func TestConnection_Transaction(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	conn := newStubConnection(t, stubs)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	require.NoError(t, err)
	assert.True(t, tx.IsActive())
	assert.True(t, conn.InTransaction())

	_, err = conn.BeginTx(ctx, nil)
	assert.True(t, IsErrorCode(err, ErrCodeTransaction))

	name, err := tx.Savepoint(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, name)
	require.NoError(t, tx.RollbackTo(ctx, name))

	_, err = tx.Execute(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.False(t, tx.IsActive())
	assert.False(t, conn.InTransaction())
	assert.True(t, IsErrorCode(tx.Commit(ctx), ErrCodeTransaction))

	for _, s := range stubs {
		assert.Equal(t, 1, s.Calls("Begin"))
		assert.Equal(t, 1, s.Calls("SetSavepoint"))
		assert.Equal(t, 1, s.Calls("RollbackToSavepoint"))
		assert.Equal(t, 1, s.Calls("Commit"))
	}
}

func TestConnection_FailedCommitKeepsTransactionActive(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	stubs[1].FailOn("Commit", testutils.ErrInjected)
	conn := newStubConnection(t, stubs)
	ctx := context.Background()

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)

	err = tx.Commit(ctx)
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))
	assert.True(t, tx.IsActive())
	assert.True(t, conn.InTransaction())

	require.NoError(t, tx.Rollback(ctx))
	assert.False(t, conn.InTransaction())
}

func TestConnection_SavepointNameRequired(t *testing.T) {
	stubs := testutils.NewStubSet(1)
	conn := newStubConnection(t, stubs)

	assert.True(t, IsErrorCode(conn.RollbackToSavepoint(context.Background(), ""), ErrCodeInvalidParam))
	assert.True(t, IsErrorCode(conn.ReleaseSavepoint(context.Background(), ""), ErrCodeInvalidParam))
	require.NoError(t, conn.ReleaseSavepoint(context.Background(), "sp1"))
	assert.Zero(t, stubs[0].Calls("RollbackToSavepoint"))
}

type staticRouter map[string][]string

func (r staticRouter) Route(ctx context.Context, query string) ([]string, error) {
	if shards, ok := r[query]; ok {
		if shards == nil {
			return nil, errors.New("no common shard")
		}
		return shards, nil
	}
	return nil, nil
}

func TestConnection_RoutedStatements(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	router := staticRouter{
		"SELECT * FROM items": {"ds_2"},
		"SELECT * FROM both":  {"ds_2", "ds_1"},
		"SELECT * FROM gone":  {"ds_9"},
		"SELECT * FROM bad":   nil,
	}
	conn := newStubConnection(t, stubs, func(o *ConnectionOptions) { o.Router = router })
	ctx := context.Background()

	scanShard := func(query string) string {
		q, err := conn.QueryContext(ctx, query)
		require.NoError(t, err)
		require.True(t, q.Next())
		var shard string
		require.NoError(t, q.Scan(&shard))
		return shard
	}

	assert.Equal(t, "ds_2", scanShard("SELECT * FROM items"))
	// 路由结果按后端集合的顺序取第一个
	assert.Equal(t, "ds_1", scanShard("SELECT * FROM both"))
	// 未绑定的语句不收窄
	assert.Equal(t, "ds_0", scanShard("SELECT 1"))

	_, err := conn.QueryContext(ctx, "SELECT * FROM gone")
	assert.True(t, IsErrorCode(err, ErrCodeNoBackingConnection))

	_, err = conn.QueryContext(ctx, "SELECT * FROM bad")
	assert.True(t, IsErrorCode(err, ErrCodeNoBackingConnection))
}

type recordingObserver struct {
	mu     sync.Mutex
	events []capability.Operation
}

func (o *recordingObserver) Observe(op capability.Operation, class capability.Classification, targets int, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, op)
}

func (o *recordingObserver) operations() []capability.Operation {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]capability.Operation(nil), o.events...)
}

func TestConnection_ObserverSeesEveryClassification(t *testing.T) {
	observer := &recordingObserver{}
	conn := newStubConnection(t, testutils.NewStubSet(1), func(o *ConnectionOptions) { o.Observer = observer })
	ctx := context.Background()

	_, _ = conn.NativeSQL("SELECT 1")
	_ = conn.SetClientInfo("a", "b")
	_, _ = conn.AutoCommit()
	_, _ = conn.Catalog(ctx)
	_ = conn.Ping(ctx)
	_ = conn.Close()

	assert.Equal(t, []capability.Operation{
		capability.OpNativeSQL,
		capability.OpSetClientInfo,
		capability.OpGetAutoCommit,
		capability.OpGetCatalog,
		capability.OpPing,
		capability.OpClose,
	}, observer.events)
}

// blockingConn 的 Ping 和 MetaData 一直等到 context 结束
type blockingConn struct {
	*testutils.StubConn
	started chan struct{}
	once    sync.Once
}

func (b *blockingConn) wait(ctx context.Context) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingConn) Ping(ctx context.Context) error {
	return b.wait(ctx)
}

func (b *blockingConn) MetaData(ctx context.Context) (*domain.MetaData, error) {
	return nil, b.wait(ctx)
}

func TestConnection_AbortCancelsInflightCalls(t *testing.T) {
	blocking := &blockingConn{StubConn: testutils.NewStubConn("slow"), started: make(chan struct{})}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return []domain.BackingConn{blocking}, nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- conn.Ping(context.Background()) }()
	<-blocking.started

	require.NoError(t, conn.Abort(context.Background()))

	select {
	case err := <-done:
		assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight ping was not canceled by abort")
	}
	assert.True(t, conn.IsClosed())
	assert.Equal(t, 1, blocking.Calls("Abort"))
}

func TestConnection_NetworkTimeoutBoundsBackingCalls(t *testing.T) {
	blocking := &blockingConn{StubConn: testutils.NewStubConn("slow"), started: make(chan struct{})}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return []domain.BackingConn{blocking}, nil
		}),
	})
	require.NoError(t, err)
	require.NoError(t, conn.SetNetworkTimeout(20*time.Millisecond))

	err = conn.Ping(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Timeout())
	assert.False(t, apiErr.Partial())
}

func TestConnection_ParallelAggregate(t *testing.T) {
	stubs := testutils.NewStubSet(5)
	stubs[3].FailOn("Commit", testutils.ErrInjected)
	conn := newStubConnection(t, stubs, func(o *ConnectionOptions) {
		o.ParallelAggregate = true
		o.MaxFanout = 2
	})

	require.NoError(t, conn.Ping(context.Background()))
	for _, s := range stubs {
		assert.Equal(t, 1, s.Calls("Ping"))
	}

	err := conn.Commit(context.Background())
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ds_3", apiErr.Shard)
	assert.Equal(t, 5, apiErr.Total)
}

func TestConnection_ResolveFailure(t *testing.T) {
	conn, err := NewConnection(ConnectionOptions{
		Database: "missing",
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return nil, domain.NewErrLogicalDatabaseNotFound(database)
		}),
	})
	require.NoError(t, err)

	err = conn.Ping(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeInvalidParam), "got %v", err)

	var notFound *domain.ErrLogicalDatabaseNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestConnection_VerifyHomogeneous(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	conn := newStubConnection(t, stubs)

	md, err := conn.VerifyHomogeneous(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stub", md.ProductName)
	for _, s := range stubs {
		assert.Equal(t, 1, s.Calls("MetaData"))
	}

	_, err = newStubConnection(t, nil).VerifyHomogeneous(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeNoBackingConnection))

	stubs[2].FailOn("MetaData", testutils.ErrInjected)
	_, err = conn.VerifyHomogeneous(context.Background())
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure))
}

type versionedConn struct {
	*testutils.StubConn
	version string
}

func (v *versionedConn) MetaData(ctx context.Context) (*domain.MetaData, error) {
	return &domain.MetaData{ProductName: "stub", ProductVersion: v.version, DataSource: v.Name()}, nil
}

func TestConnection_VerifyHomogeneousDivergence(t *testing.T) {
	conns := []domain.BackingConn{
		&versionedConn{StubConn: testutils.NewStubConn("ds_0"), version: "8.0"},
		&versionedConn{StubConn: testutils.NewStubConn("ds_1"), version: "8.0"},
		&versionedConn{StubConn: testutils.NewStubConn("ds_2"), version: "5.7"},
	}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return conns, nil
		}),
	})
	require.NoError(t, err)

	_, err = conn.VerifyHomogeneous(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeDivergence))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ds_2", apiErr.Shard)
	assert.Contains(t, apiErr.Message, "5.7")
}

func TestConnection_TimeoutAfterPartialAggregate(t *testing.T) {
	stubs := testutils.NewStubSet(3)
	slow := &blockingConn{StubConn: stubs[1], started: make(chan struct{})}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return []domain.BackingConn{stubs[0], slow, stubs[2]}, nil
		}),
		NetworkTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	err = conn.Ping(context.Background())

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, IsErrorCode(err, ErrCodeBackingFailure), "got %v", err)
	assert.True(t, apiErr.Partial())
	assert.True(t, apiErr.Timeout())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "ds_1", apiErr.Shard)
	assert.Equal(t, 1, apiErr.Applied)
	assert.Equal(t, 3, apiErr.Total)
	assert.Equal(t, 1, stubs[0].Calls("Ping"))
	assert.Zero(t, stubs[2].Calls("Ping"))
}

func TestConnection_VerifyHomogeneousHonorsNetworkTimeout(t *testing.T) {
	stubs := testutils.NewStubSet(2)
	slow := &blockingConn{StubConn: stubs[1], started: make(chan struct{})}
	observer := &recordingObserver{}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return []domain.BackingConn{stubs[0], slow}, nil
		}),
		Observer:       observer,
		NetworkTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conn.VerifyHomogeneous(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		var apiErr *Error
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Timeout(), "got %v", err)
		assert.Equal(t, "ds_1", apiErr.Shard)
		assert.Equal(t, capability.OpVerifyHomogeneous.String(), apiErr.Operation)
	case <-time.After(5 * time.Second):
		t.Fatal("verify-homogeneous ignored the network timeout")
	}
	assert.Contains(t, observer.operations(), capability.OpVerifyHomogeneous)
}

func TestConnection_AbortCancelsVerifyHomogeneous(t *testing.T) {
	blocking := &blockingConn{StubConn: testutils.NewStubConn("slow"), started: make(chan struct{})}
	conn, err := NewConnection(ConnectionOptions{
		Resolver: domain.ResolverFunc(func(ctx context.Context, database string) ([]domain.BackingConn, error) {
			return []domain.BackingConn{blocking}, nil
		}),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := conn.VerifyHomogeneous(context.Background())
		done <- err
	}()
	<-blocking.started

	require.NoError(t, conn.Abort(context.Background()))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not cancel verify-homogeneous")
	}
}
