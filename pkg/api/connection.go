package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kasuganosora/shardconn/pkg/capability"
	"github.com/kasuganosora/shardconn/pkg/dispatch"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/session"
)

// Holdability 结果集保持方式
type Holdability = session.Holdability

const (
	HoldCursorsOverCommit = session.HoldCursorsOverCommit
	CloseCursorsAtCommit  = session.CloseCursorsAtCommit
)

// ConnectionOptions 逻辑连接选项
type ConnectionOptions struct {
	// Database 逻辑库名
	Database string
	// Resolver 提供逻辑库当前的后端连接集合（必填）
	Resolver domain.Resolver
	// Router 按语句收窄 Exec/Query 的目标分片（可选）
	Router domain.Router
	// Logger 日志，默认 NoOpLogger
	Logger Logger
	// Observer 每次分发后回调（可选）
	Observer dispatch.Observer
	// ParallelAggregate 并发执行 AGGREGATE 操作
	ParallelAggregate bool
	// MaxFanout 并发上限，0 表示不限制
	MaxFanout int
	// NetworkTimeout 初始网络超时，0 表示不限制
	NetworkTimeout time.Duration
}

// Connection 分片逻辑连接
//
// 每个操作按能力矩阵分类执行：
//   - REJECT_STANDARD / REJECT_POLICY 立即报错，不触达任何分片
//   - NOOP_ACCEPT 只读写连接自身状态
//   - DELEGATE 只交给第一个后端连接
//   - AGGREGATE 交给全部后端连接，首个失败即停止，已执行的分片不回滚
//
// 后端连接集合由 Resolver 持有，每次分发重新解析；Close 不会关闭它们。
// NetworkTimeout 和 Holdability 只记录在连接上，后端不保证生效。
type Connection struct {
	id         string
	database   string
	dispatcher *dispatch.Dispatcher
	state      *session.State
	inflight   *session.Inflight
	resolver   domain.Resolver
	router     domain.Router
	logger     Logger
	onClose    func(*Connection)
}

// NewConnection 创建逻辑连接
func NewConnection(opts ConnectionOptions) (*Connection, error) {
	if opts.Resolver == nil {
		return nil, NewError(ErrCodeInvalidParam, "resolver cannot be nil", nil)
	}
	if opts.NetworkTimeout < 0 {
		return nil, NewError(ErrCodeInvalidParam, "network timeout cannot be negative", nil)
	}
	if opts.MaxFanout < 0 {
		return nil, NewError(ErrCodeInvalidParam, "max fanout cannot be negative", nil)
	}
	if opts.Logger == nil {
		opts.Logger = NewNoOpLogger()
	}

	state := session.NewState()
	if err := state.SetNetworkTimeout(opts.NetworkTimeout); err != nil {
		return nil, WrapError(err, ErrCodeInvalidParam, "invalid network timeout")
	}

	c := &Connection{
		id:       uuid.NewString(),
		database: opts.Database,
		state:    state,
		inflight: session.NewInflight(),
		resolver: opts.Resolver,
		router:   opts.Router,
		logger:   opts.Logger,
	}

	c.dispatcher = dispatch.New(
		func(ctx context.Context) ([]domain.BackingConn, error) {
			return c.resolver.Resolve(ctx, c.database)
		},
		dispatch.Config{
			Parallel:  opts.ParallelAggregate,
			MaxFanout: opts.MaxFanout,
			Timeout:   state.NetworkTimeout,
			Observer:  opts.Observer,
		},
	)

	c.logger.Debug("[CONN] %s opened for logical database %s", c.id, c.database)
	return c, nil
}

// replayState 把已记录的非默认会话状态补到新打开的后端会话上，
// 使后来加入的分片与已有分片保持一致
func (c *Connection) replayState(ctx context.Context, conn domain.BackingConn) error {
	if level := c.state.Isolation(); level != sql.LevelDefault {
		if err := conn.SetTransactionIsolation(ctx, level); err != nil {
			return err
		}
	}
	if c.state.ReadOnly() {
		if err := conn.SetReadOnly(ctx, true); err != nil {
			return err
		}
	}
	if !c.state.AutoCommit() {
		return conn.SetAutoCommit(ctx, false)
	}
	return nil
}

// ID 连接标识
func (c *Connection) ID() string {
	return c.id
}

// Database 逻辑库名
func (c *Connection) Database() string {
	return c.database
}

// Snapshot 返回连接状态快照
func (c *Connection) Snapshot() session.Snapshot {
	return c.state.Snapshot()
}

// InTransaction 是否处于显式事务中
func (c *Connection) InTransaction() bool {
	return c.state.InTransaction()
}

// ==================== 分发 ====================

func (c *Connection) checkOpen(op capability.Operation) error {
	if err := c.state.CheckOpen(); err != nil {
		return translate(op, err)
	}
	return nil
}

// local runs an operation that never reaches a backing connection.
func (c *Connection) local(op capability.Operation) error {
	if err := c.checkOpen(op); err != nil {
		return err
	}
	err := c.dispatcher.Execute(context.Background(), op, nil)
	if err != nil {
		var rejected *dispatch.RejectedError
		if errors.As(err, &rejected) && rejected.Policy() {
			c.logger.Warn("[CONN] %s rejected %s: not allowed on a sharded connection", c.id, op)
		}
	}
	return c.fail(op, err)
}

// enter checks the connection is open and registers the call context so
// Abort can cancel it. done must be called when the dispatch returns.
func (c *Connection) enter(ctx context.Context, op capability.Operation) (context.Context, func(), error) {
	if err := c.checkOpen(op); err != nil {
		return nil, nil, err
	}
	ctx, _, done := c.inflight.Register(ctx, op.String())
	c.logger.Debug("[CONN] %s dispatch %s (%s)", c.id, op, capability.Classify(op))
	return ctx, done, nil
}

// run dispatches op to the backing connections.
func (c *Connection) run(ctx context.Context, op capability.Operation, call dispatch.Call, opts ...dispatch.Option) error {
	ctx, done, err := c.enter(ctx, op)
	if err != nil {
		return err
	}
	defer done()
	return c.fail(op, c.dispatcher.Execute(ctx, op, call, opts...))
}

func (c *Connection) fail(op capability.Operation, err error) error {
	if err == nil {
		return nil
	}
	var backing *dispatch.BackingError
	if errors.As(err, &backing) && backing.Partial() {
		c.logger.Warn("[CONN] %s %s applied on %d of %d shards before failing on %s: %v",
			c.id, op, backing.Applied, backing.Total, backing.Shard, backing.Err)
	}
	return translate(op, err)
}

// each adapts a BackingConn method expression to a dispatch.Call.
func each(method func(domain.BackingConn, context.Context) error) dispatch.Call {
	return func(ctx context.Context, conn domain.BackingConn) error {
		return method(conn, ctx)
	}
}

func delegateValue[T any](ctx context.Context, c *Connection, op capability.Operation, method func(domain.BackingConn, context.Context) (T, error), opts ...dispatch.Option) (T, error) {
	var out T
	err := c.run(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		v, err := method(conn, ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts...)
	return out, err
}

// aggregateValue reads one value from every backing connection. Values that
// differ between shards fail with DIVERGENCE instead of one being picked.
func aggregateValue[T comparable](ctx context.Context, c *Connection, op capability.Operation, method func(domain.BackingConn, context.Context) (T, error)) (dispatch.ShardValue[T], error) {
	ctx, done, err := c.enter(ctx, op)
	if err != nil {
		return dispatch.ShardValue[T]{}, err
	}
	defer done()

	v, err := dispatch.Value(ctx, c.dispatcher, op, func(ctx context.Context, conn domain.BackingConn) (T, error) {
		return method(conn, ctx)
	})
	return v, c.fail(op, err)
}

// routed narrows a statement's targets to the shards the router names.
func (c *Connection) routed(query string) []dispatch.Option {
	if c.router == nil {
		return nil
	}
	return []dispatch.Option{dispatch.Narrow(func(ctx context.Context, conns []domain.BackingConn) ([]domain.BackingConn, error) {
		names, err := c.router.Route(ctx, query)
		if err != nil {
			return nil, &dispatch.ResolveError{Err: err}
		}
		if len(names) == 0 {
			return conns, nil
		}
		wanted := make(map[string]bool, len(names))
		for _, name := range names {
			wanted[name] = true
		}
		narrowed := make([]domain.BackingConn, 0, len(names))
		for _, conn := range conns {
			if wanted[conn.Name()] {
				narrowed = append(narrowed, conn)
			}
		}
		return narrowed, nil
	})}
}

// ==================== 不支持的操作 ====================

// PrepareCall 存储过程调用只对单个物理连接有意义
func (c *Connection) PrepareCall(query string) (*sql.Stmt, error) {
	return nil, c.local(capability.OpPrepareCall)
}

// PrepareCallWithResultSet 同 PrepareCall，总是返回 NOT_SUPPORTED
func (c *Connection) PrepareCallWithResultSet(query string, resultSetType, concurrency int) (*sql.Stmt, error) {
	return nil, c.local(capability.OpPrepareCallWithResultSet)
}

// PrepareCallWithHoldability 同 PrepareCall
func (c *Connection) PrepareCallWithHoldability(query string, resultSetType, concurrency int, holdability Holdability) (*sql.Stmt, error) {
	return nil, c.local(capability.OpPrepareCallWithHoldability)
}

// NativeSQL 各分片的方言可能不同，不做转换
func (c *Connection) NativeSQL(query string) (string, error) {
	return "", c.local(capability.OpNativeSQL)
}

// TypeMap 不支持自定义类型映射
func (c *Connection) TypeMap() (map[string]reflect.Type, error) {
	return nil, c.local(capability.OpGetTypeMap)
}

// SetTypeMap 不支持自定义类型映射
func (c *Connection) SetTypeMap(m map[string]reflect.Type) error {
	return c.local(capability.OpSetTypeMap)
}

// CreateArrayOf LOB/数组等驱动对象绑定在单个物理连接上，以下 Create* 均不支持
func (c *Connection) CreateArrayOf(typeName string, elements []interface{}) (interface{}, error) {
	return nil, c.local(capability.OpCreateArrayOf)
}

// CreateBlob returns NOT_SUPPORTED.
func (c *Connection) CreateBlob() ([]byte, error) {
	return nil, c.local(capability.OpCreateBlob)
}

// CreateClob returns NOT_SUPPORTED.
func (c *Connection) CreateClob() (*strings.Builder, error) {
	return nil, c.local(capability.OpCreateClob)
}

// CreateNClob returns NOT_SUPPORTED.
func (c *Connection) CreateNClob() (*strings.Builder, error) {
	return nil, c.local(capability.OpCreateNClob)
}

// CreateSQLXML returns NOT_SUPPORTED.
func (c *Connection) CreateSQLXML() (*strings.Builder, error) {
	return nil, c.local(capability.OpCreateSQLXML)
}

// CreateStruct returns NOT_SUPPORTED.
func (c *Connection) CreateStruct(typeName string, attributes []interface{}) (interface{}, error) {
	return nil, c.local(capability.OpCreateStruct)
}

// ClientInfo 客户端信息不在分片间同步，读取不支持
func (c *Connection) ClientInfo() (map[string]string, error) {
	return nil, c.local(capability.OpGetClientInfo)
}

// ClientInfoValue 同 ClientInfo
func (c *Connection) ClientInfoValue(name string) (string, error) {
	return "", c.local(capability.OpGetClientInfoByName)
}

// SetClientInfo 客户端信息只会到达一个分片，禁止设置
func (c *Connection) SetClientInfo(name, value string) error {
	return c.local(capability.OpSetClientInfo)
}

// SetClientInfoProperties 同 SetClientInfo，返回 POLICY_VIOLATION
func (c *Connection) SetClientInfoProperties(props map[string]string) error {
	return c.local(capability.OpSetClientInfoProperties)
}

// ==================== 连接自身状态 ====================

// NetworkTimeout 网络超时（0 表示不限制）
func (c *Connection) NetworkTimeout() (time.Duration, error) {
	if err := c.local(capability.OpGetNetworkTimeout); err != nil {
		return 0, err
	}
	return c.state.NetworkTimeout(), nil
}

// SetNetworkTimeout 记录网络超时，并在后续分发时作为后端调用的期限。
// 后端驱动不保证遵守该期限。
func (c *Connection) SetNetworkTimeout(timeout time.Duration) error {
	if err := c.local(capability.OpSetNetworkTimeout); err != nil {
		return err
	}
	if timeout < 0 {
		return &Error{
			Code:      ErrCodeInvalidParam,
			Message:   fmt.Sprintf("network timeout cannot be negative: %v", timeout),
			Operation: capability.OpSetNetworkTimeout.String(),
			Stack:     captureStackTrace(),
		}
	}
	return translate(capability.OpSetNetworkTimeout, c.state.SetNetworkTimeout(timeout))
}

// Holdability 结果集保持方式
func (c *Connection) Holdability() (Holdability, error) {
	if err := c.local(capability.OpGetHoldability); err != nil {
		return 0, err
	}
	return c.state.Holdability(), nil
}

// SetHoldability 只记录，后端不保证生效
func (c *Connection) SetHoldability(h Holdability) error {
	if err := c.local(capability.OpSetHoldability); err != nil {
		return err
	}
	if !h.Valid() {
		return &Error{
			Code:      ErrCodeInvalidParam,
			Message:   fmt.Sprintf("invalid holdability: %v", h),
			Operation: capability.OpSetHoldability.String(),
			Stack:     captureStackTrace(),
		}
	}
	return translate(capability.OpSetHoldability, c.state.SetHoldability(h))
}

// AutoCommit 返回最近一次成功设置的自动提交模式
func (c *Connection) AutoCommit() (bool, error) {
	if err := c.local(capability.OpGetAutoCommit); err != nil {
		return false, err
	}
	return c.state.AutoCommit(), nil
}

// IsReadOnly 返回最近一次成功设置的只读模式
func (c *Connection) IsReadOnly() (bool, error) {
	if err := c.local(capability.OpIsReadOnly); err != nil {
		return false, err
	}
	return c.state.ReadOnly(), nil
}

// SetCatalog 只记录，不切换任何分片的库
func (c *Connection) SetCatalog(catalog string) error {
	if err := c.local(capability.OpSetCatalog); err != nil {
		return err
	}
	return translate(capability.OpSetCatalog, c.state.SetCatalog(catalog))
}

// SetSchema 只记录，不切换任何分片的 schema
func (c *Connection) SetSchema(schema string) error {
	if err := c.local(capability.OpSetSchema); err != nil {
		return err
	}
	return translate(capability.OpSetSchema, c.state.SetSchema(schema))
}

// IsClosed 关闭后仍可调用
func (c *Connection) IsClosed() bool {
	if c.state.IsClosed() {
		return true
	}
	// NOOP_ACCEPT 不会失败，分发只为通知 Observer
	_ = c.dispatcher.Execute(context.Background(), capability.OpIsClosed, nil)
	return false
}

// Close 关闭逻辑连接，可重复调用。后端连接归 Resolver 所有，不会被关闭。
func (c *Connection) Close() error {
	if c.state.MarkClosed() {
		return nil
	}
	// 同上，只为通知 Observer
	_ = c.dispatcher.Execute(context.Background(), capability.OpClose, nil)
	c.logger.Debug("[CONN] %s closed", c.id)
	if c.onClose != nil {
		c.onClose(c)
	}
	return nil
}

// ==================== 委托给首个分片 ====================

// Catalog 当前库名（取自第一个分片）
func (c *Connection) Catalog(ctx context.Context) (string, error) {
	return delegateValue(ctx, c, capability.OpGetCatalog, domain.BackingConn.Catalog)
}

// Schema 当前 schema（取自第一个分片）
func (c *Connection) Schema(ctx context.Context) (string, error) {
	return delegateValue(ctx, c, capability.OpGetSchema, domain.BackingConn.Schema)
}

// MetaData 元数据（取自第一个分片）
func (c *Connection) MetaData(ctx context.Context) (*domain.MetaData, error) {
	return delegateValue(ctx, c, capability.OpGetMetaData, domain.BackingConn.MetaData)
}

// TransactionIsolation 事务隔离级别（取自第一个分片）
func (c *Connection) TransactionIsolation(ctx context.Context) (sql.IsolationLevel, error) {
	return delegateValue(ctx, c, capability.OpGetTransactionIsolation, domain.BackingConn.TransactionIsolation)
}

// Warnings 警告（只反映第一个分片）
func (c *Connection) Warnings(ctx context.Context) ([]domain.Warning, error) {
	return delegateValue(ctx, c, capability.OpGetWarnings, domain.BackingConn.Warnings)
}

// ExecContext 执行语句。配置了 Router 时在其选出的分片中取第一个。
func (c *Connection) ExecContext(ctx context.Context, query string, args ...interface{}) (*Result, error) {
	res, err := delegateValue(ctx, c, capability.OpExec, func(conn domain.BackingConn, ctx context.Context) (*domain.ExecResult, error) {
		return conn.Exec(ctx, query, args...)
	}, c.routed(query)...)
	if err != nil {
		return nil, err
	}
	return NewResult(res.RowsAffected, res.LastInsertID), nil
}

// QueryContext 执行查询，结果已全部读入内存
func (c *Connection) QueryContext(ctx context.Context, query string, args ...interface{}) (*Query, error) {
	res, err := delegateValue(ctx, c, capability.OpQuery, func(conn domain.BackingConn, ctx context.Context) (*domain.QueryResult, error) {
		return conn.Query(ctx, query, args...)
	}, c.routed(query)...)
	if err != nil {
		return nil, err
	}
	return NewQuery(res), nil
}

// ==================== 聚合到全部分片 ====================

// Abort 取消进行中的调用并中止全部后端连接，成功后连接标记为已关闭
func (c *Connection) Abort(ctx context.Context) error {
	op := capability.OpAbort
	if err := c.checkOpen(op); err != nil {
		return err
	}
	if n := c.inflight.CancelAll(); n > 0 {
		c.logger.Debug("[CONN] %s abort canceled %d in-flight calls", c.id, n)
	}
	if err := c.fail(op, c.dispatcher.Execute(ctx, op, each(domain.BackingConn.Abort))); err != nil {
		return err
	}
	if !c.state.MarkClosed() {
		c.logger.Debug("[CONN] %s aborted", c.id)
		if c.onClose != nil {
			c.onClose(c)
		}
	}
	return nil
}

// SetAutoCommit 在全部分片上设置自动提交，全部成功后记录
func (c *Connection) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	op := capability.OpSetAutoCommit
	err := c.run(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.SetAutoCommit(ctx, autoCommit)
	})
	if err != nil {
		return err
	}
	return translate(op, c.state.SetAutoCommit(autoCommit))
}

// SetReadOnly 在全部分片上设置只读，全部成功后记录
func (c *Connection) SetReadOnly(ctx context.Context, readOnly bool) error {
	op := capability.OpSetReadOnly
	err := c.run(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.SetReadOnly(ctx, readOnly)
	})
	if err != nil {
		return err
	}
	return translate(op, c.state.SetReadOnly(readOnly))
}

// SetTransactionIsolation 在全部分片上设置隔离级别
func (c *Connection) SetTransactionIsolation(ctx context.Context, level sql.IsolationLevel) error {
	op := capability.OpSetTransactionIsolation
	err := c.run(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.SetTransactionIsolation(ctx, level)
	})
	if err != nil {
		return err
	}
	return translate(op, c.state.SetIsolation(level))
}

// BeginTx 在全部分片上开启事务。各分片独立提交，不是分布式事务。
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Transaction, error) {
	op := capability.OpBegin
	if err := c.checkOpen(op); err != nil {
		return nil, err
	}
	if c.state.InTransaction() {
		return nil, &Error{
			Code:      ErrCodeTransaction,
			Message:   "transaction already active",
			Operation: op.String(),
			Stack:     captureStackTrace(),
		}
	}
	err := c.run(ctx, op, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.Begin(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	if err := c.state.SetInTransaction(true); err != nil {
		return nil, translate(op, err)
	}
	return newTransaction(c), nil
}

// Commit 在全部分片上提交
func (c *Connection) Commit(ctx context.Context) error {
	return c.endTransaction(ctx, capability.OpCommit, each(domain.BackingConn.Commit))
}

// Rollback 在全部分片上回滚
func (c *Connection) Rollback(ctx context.Context) error {
	return c.endTransaction(ctx, capability.OpRollback, each(domain.BackingConn.Rollback))
}

func (c *Connection) endTransaction(ctx context.Context, op capability.Operation, call dispatch.Call) error {
	if err := c.run(ctx, op, call); err != nil {
		return err
	}
	return translate(op, c.state.SetInTransaction(false))
}

// SetSavepoint 在全部分片上创建保存点，name 为空时自动命名。返回保存点名。
func (c *Connection) SetSavepoint(ctx context.Context, name string) (string, error) {
	if name == "" {
		name = "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	err := c.run(ctx, capability.OpSetSavepoint, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.SetSavepoint(ctx, name)
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// RollbackToSavepoint 在全部分片上回滚到保存点
func (c *Connection) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := c.savepointName(capability.OpRollbackToSavepoint, name); err != nil {
		return err
	}
	return c.run(ctx, capability.OpRollbackToSavepoint, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.RollbackToSavepoint(ctx, name)
	})
}

// ReleaseSavepoint 在全部分片上释放保存点
func (c *Connection) ReleaseSavepoint(ctx context.Context, name string) error {
	if err := c.savepointName(capability.OpReleaseSavepoint, name); err != nil {
		return err
	}
	return c.run(ctx, capability.OpReleaseSavepoint, func(ctx context.Context, conn domain.BackingConn) error {
		return conn.ReleaseSavepoint(ctx, name)
	})
}

func (c *Connection) savepointName(op capability.Operation, name string) error {
	if name != "" {
		return nil
	}
	return &Error{
		Code:      ErrCodeInvalidParam,
		Message:   "savepoint name cannot be empty",
		Operation: op.String(),
		Stack:     captureStackTrace(),
	}
}

// Ping 检查全部分片
func (c *Connection) Ping(ctx context.Context) error {
	return c.run(ctx, capability.OpPing, each(domain.BackingConn.Ping))
}

// ClearWarnings 清除全部分片的警告
func (c *Connection) ClearWarnings(ctx context.Context) error {
	return c.run(ctx, capability.OpClearWarnings, each(domain.BackingConn.ClearWarnings))
}

// ==================== 分片一致性 ====================

// engine identifies the backing engine of one shard.
type engine struct {
	product string
	version string
	driver  string
}

// VerifyHomogeneous 在全部分片上读取产品、版本和驱动，不一致时返回 DIVERGENCE 错误，
// 没有分片时返回 NO_BACKING_CONNECTION。返回的元数据取自最先应答的分片。
func (c *Connection) VerifyHomogeneous(ctx context.Context) (*domain.MetaData, error) {
	v, err := aggregateValue(ctx, c, capability.OpVerifyHomogeneous, func(conn domain.BackingConn, ctx context.Context) (engine, error) {
		md, err := conn.MetaData(ctx)
		if err != nil {
			return engine{}, err
		}
		return engine{product: md.ProductName, version: md.ProductVersion, driver: md.DriverName}, nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.MetaData{
		ProductName:    v.Value.product,
		ProductVersion: v.Value.version,
		DriverName:     v.Value.driver,
		DataSource:     v.Shard,
	}, nil
}
