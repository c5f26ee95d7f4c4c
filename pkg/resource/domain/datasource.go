package domain

import (
	"context"
	"database/sql"
)

// BackingConn is one physical connection to a single shard. The facade only
// ever calls these methods; lifecycle belongs to whoever supplied it.
type BackingConn interface {
	// Name 分片名称
	Name() string

	Catalog(ctx context.Context) (string, error)
	Schema(ctx context.Context) (string, error)
	MetaData(ctx context.Context) (*MetaData, error)

	TransactionIsolation(ctx context.Context) (sql.IsolationLevel, error)
	SetTransactionIsolation(ctx context.Context, level sql.IsolationLevel) error
	SetAutoCommit(ctx context.Context, autoCommit bool) error
	SetReadOnly(ctx context.Context, readOnly bool) error

	Begin(ctx context.Context, opts *sql.TxOptions) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	SetSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error

	Warnings(ctx context.Context) ([]Warning, error)
	ClearWarnings(ctx context.Context) error

	Ping(ctx context.Context) error
	// Abort terminates the physical connection without a graceful close.
	Abort(ctx context.Context) error

	Exec(ctx context.Context, query string, args ...interface{}) (*ExecResult, error)
	Query(ctx context.Context, query string, args ...interface{}) (*QueryResult, error)
}

// DataSource 数据源接口：带生命周期的后端连接，由注册表持有
type DataSource interface {
	BackingConn

	// Connect 连接数据源
	Connect(ctx context.Context) error

	// Close 关闭连接
	Close(ctx context.Context) error

	// IsConnected 检查是否已连接
	IsConnected() bool

	// GetConfig 获取数据源配置
	GetConfig() *DataSourceConfig
}

// Session is a backing connection with its own session state (transaction,
// autocommit, isolation). Closing it leaves the shard it came from usable.
type Session interface {
	BackingConn

	Close(ctx context.Context) error
}

// SessionOpener is implemented by shards that can hand out independent
// sessions. Shards without it are shared by every caller.
type SessionOpener interface {
	OpenSession(ctx context.Context) (Session, error)
}

// DataSourceFactory 数据源工厂接口
type DataSourceFactory interface {
	// Create 创建数据源（未连接）
	Create(config *DataSourceConfig) (DataSource, error)

	// GetType 支持的数据源类型
	GetType() DataSourceType
}

// Resolver supplies the ordered backing connections of a logical database.
// Membership may change between calls.
type Resolver interface {
	Resolve(ctx context.Context, logicalDatabase string) ([]BackingConn, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, logicalDatabase string) ([]BackingConn, error)

func (f ResolverFunc) Resolve(ctx context.Context, logicalDatabase string) ([]BackingConn, error) {
	return f(ctx, logicalDatabase)
}

// Router names the shards a statement targets. An empty result means the
// statement is not narrowed.
type Router interface {
	Route(ctx context.Context, query string) ([]string, error)
}
