package api

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/shardconn/pkg/config"
	"github.com/kasuganosora/shardconn/pkg/datasource/mysql"
	"github.com/kasuganosora/shardconn/pkg/datasource/postgresql"
	"github.com/kasuganosora/shardconn/pkg/datasource/sqlite"
	"github.com/kasuganosora/shardconn/pkg/dispatch"
	"github.com/kasuganosora/shardconn/pkg/resource/application"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
	"github.com/kasuganosora/shardconn/pkg/router"
)

// DB 管理逻辑库、分片和逻辑连接
type DB struct {
	mu        sync.RWMutex
	dsManager *application.DataSourceManager
	routers   map[string]domain.Router
	conns     map[string]*Connection
	sessions  map[string]*application.SessionResolver
	logger    Logger
	config    *DBConfig
}

// DBConfig contains configuration options for the DB object
type DBConfig struct {
	DefaultLogger     Logger
	Observer          dispatch.Observer
	NetworkTimeout    time.Duration // 新连接的网络超时, 0表示不限制
	ParallelAggregate bool
	MaxFanout         int
}

// NewDB creates a new DB object with the given configuration.
// MySQL, PostgreSQL and SQLite factories are registered.
func NewDB(config *DBConfig) (*DB, error) {
	if config == nil {
		config = &DBConfig{}
	}
	if config.DefaultLogger == nil {
		config.DefaultLogger = NewNoOpLogger()
	}
	if config.NetworkTimeout < 0 {
		return nil, NewError(ErrCodeInvalidParam, "network timeout cannot be negative", nil)
	}
	if config.MaxFanout < 0 {
		return nil, NewError(ErrCodeInvalidParam, "max fanout cannot be negative", nil)
	}

	dsManager := application.NewDataSourceManager()
	registry := dsManager.GetRegistry()
	for _, factory := range []domain.DataSourceFactory{
		mysql.NewMySQLFactory(),
		postgresql.NewPostgreSQLFactory(),
		sqlite.NewSQLiteFactory(),
	} {
		if err := registry.Register(factory); err != nil {
			return nil, WrapError(err, ErrCodeInternal, "failed to register datasource factory")
		}
	}

	return &DB{
		dsManager: dsManager,
		routers:   make(map[string]domain.Router),
		conns:     make(map[string]*Connection),
		sessions:  make(map[string]*application.SessionResolver),
		logger:    config.DefaultLogger,
		config:    config,
	}, nil
}

// Open 按配置创建 DB：注册全部逻辑库和分片并连接，为配置了表绑定的库设置路由
func Open(ctx context.Context, cfg *config.Config, logger Logger, observer dispatch.Observer) (*DB, error) {
	db, err := NewDB(&DBConfig{
		DefaultLogger:     logger,
		Observer:          observer,
		NetworkTimeout:    cfg.Connection.NetworkTimeout,
		ParallelAggregate: cfg.Connection.ParallelAggregate,
		MaxFanout:         cfg.Connection.MaxFanout,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Connection.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Connection.ConnectTimeout)
		defer cancel()
	}

	for i := range cfg.Databases {
		dbCfg := &cfg.Databases[i]
		if err := db.AddDatabase(dbCfg.Name); err != nil {
			_ = db.Close()
			return nil, err
		}
		for j := range dbCfg.Shards {
			if err := db.CreateShard(ctx, dbCfg.Name, &dbCfg.Shards[j]); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		if len(dbCfg.Tables) > 0 {
			db.SetRouter(dbCfg.Name, router.NewTableRouter(dbCfg.Tables))
		}
	}

	return db, nil
}

// RegisterFactory 注册数据源工厂
func (db *DB) RegisterFactory(factory domain.DataSourceFactory) error {
	if err := db.dsManager.GetRegistry().Register(factory); err != nil {
		return WrapError(err, ErrCodeInvalidParam, "failed to register datasource factory")
	}
	return nil
}

// AddDatabase 声明逻辑库（可以暂时没有分片）
func (db *DB) AddDatabase(name string) error {
	if err := db.dsManager.AddDatabase(name); err != nil {
		return WrapError(err, ErrCodeInvalidParam, "invalid logical database")
	}
	db.logger.Debug("Added logical database: %s", name)
	return nil
}

// RegisterShard 将已创建的分片追加到逻辑库
func (db *DB) RegisterShard(database string, ds domain.DataSource) error {
	if err := db.dsManager.Register(database, ds); err != nil {
		return WrapError(err, ErrCodeInvalidParam, "failed to register shard")
	}
	db.logger.Debug("Registered shard %s in %s", ds.Name(), database)
	return nil
}

// CreateShard 按配置创建、连接并注册分片
func (db *DB) CreateShard(ctx context.Context, database string, cfg *domain.DataSourceConfig) error {
	if err := db.dsManager.CreateAndRegister(ctx, database, cfg); err != nil {
		db.logger.Error("Failed to create shard %s in %s: %v", cfg.Name, database, err)
		return WrapError(err, ErrCodeBackingFailure, "failed to create shard")
	}
	db.logger.Info("Shard %s (%s) connected in %s", cfg.Name, cfg.Type, database)
	return nil
}

// RemoveShard 关闭并移除分片，已打开的逻辑连接在下一次分发时生效
func (db *DB) RemoveShard(ctx context.Context, shard string) error {
	if err := db.dsManager.Unregister(ctx, shard); err != nil {
		return WrapError(err, ErrCodeInvalidParam, "failed to remove shard")
	}
	db.logger.Info("Shard %s removed", shard)
	return nil
}

// SetRouter 设置逻辑库的语句路由，nil 表示不路由
func (db *DB) SetRouter(database string, r domain.Router) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if r == nil {
		delete(db.routers, database)
		return
	}
	db.routers[database] = r
}

// Connect 打开逻辑库上的逻辑连接
//
// 每个逻辑连接在每个分片上有自己的后端会话，事务、自动提交、只读和隔离级别
// 互不影响。会话在首次分发时打开，逻辑连接关闭或中止时由 DB 关闭。
func (db *DB) Connect(database string) (*Connection, error) {
	if _, err := db.dsManager.Shards(database); err != nil {
		return nil, WrapError(err, ErrCodeInvalidParam, "logical database '"+database+"' not found")
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	sessions := application.NewSessionResolver(db.dsManager)
	conn, err := NewConnection(ConnectionOptions{
		Database:          database,
		Resolver:          sessions,
		Router:            db.routers[database],
		Logger:            db.logger,
		Observer:          db.config.Observer,
		ParallelAggregate: db.config.ParallelAggregate,
		MaxFanout:         db.config.MaxFanout,
		NetworkTimeout:    db.config.NetworkTimeout,
	})
	if err != nil {
		return nil, err
	}
	sessions.SetPrepare(conn.replayState)
	conn.onClose = db.forget
	db.conns[conn.ID()] = conn
	db.sessions[conn.ID()] = sessions
	return conn, nil
}

// forget 移除逻辑连接并关闭它的后端会话
func (db *DB) forget(conn *Connection) {
	db.mu.Lock()
	sessions := db.sessions[conn.ID()]
	delete(db.conns, conn.ID())
	delete(db.sessions, conn.ID())
	logger := db.logger
	db.mu.Unlock()

	if sessions == nil {
		return
	}
	if err := sessions.Close(context.Background()); err != nil {
		logger.Warn("Closing sessions of connection %s: %v", conn.ID(), err)
	}
}

// OpenConnections 当前打开的逻辑连接数
func (db *DB) OpenConnections() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.conns)
}

// Databases 返回全部逻辑库（排序）
func (db *DB) Databases() []string {
	return db.dsManager.Databases()
}

// GetDSManager returns the DataSourceManager
func (db *DB) GetDSManager() *application.DataSourceManager {
	return db.dsManager
}

// SetLogger sets the logger for the DB object
func (db *DB) SetLogger(logger Logger) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.logger = logger
}

// GetLogger returns the current logger
func (db *DB) GetLogger() Logger {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.logger
}

// Close 关闭全部逻辑连接和分片
func (db *DB) Close() error {
	db.mu.Lock()
	conns := make([]*Connection, 0, len(db.conns))
	for _, conn := range db.conns {
		conns = append(conns, conn)
	}
	db.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}

	if err := db.dsManager.CloseAll(context.Background()); err != nil {
		db.logger.Error("Error closing shards: %v", err)
		return WrapError(err, ErrCodeBackingFailure, "failed to close shards")
	}
	db.logger.Info("DB closed")
	return nil
}
