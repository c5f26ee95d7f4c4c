package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// SQLCommonDataSource implements domain.DataSource over a connection pool.
// MySQL, PostgreSQL and SQLite embed this struct.
//
// Calls made on the datasource itself go through its default Session.
// OpenSession pins further physical connections, one per caller, so that
// session state (transaction, autocommit, read-only mode, isolation) is never
// shared between callers.
type SQLCommonDataSource struct {
	*Session

	mu        sync.Mutex
	config    *domain.DataSourceConfig
	sqlCfg    *SQLConfig
	dialect   Dialect
	db        *sql.DB
	connected bool

	smu      sync.Mutex
	sessions map[*Session]struct{}
}

var (
	_ domain.DataSource    = (*SQLCommonDataSource)(nil)
	_ domain.SessionOpener = (*SQLCommonDataSource)(nil)
)

// NewSQLCommonDataSource creates a new shared SQL datasource.
func NewSQLCommonDataSource(dsCfg *domain.DataSourceConfig, sqlCfg *SQLConfig, dialect Dialect) *SQLCommonDataSource {
	return &SQLCommonDataSource{
		Session:  newSession(dsCfg.Name, dialect),
		config:   dsCfg,
		sqlCfg:   sqlCfg,
		dialect:  dialect,
		sessions: make(map[*Session]struct{}),
	}
}

// Dialect returns the engine dialect.
func (ds *SQLCommonDataSource) Dialect() Dialect {
	return ds.dialect
}

// Connect opens the database and pins the default session's connection.
func (ds *SQLCommonDataSource) Connect(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.connected {
		return nil
	}

	dsn, err := ds.dialect.BuildDSN(ds.config, ds.sqlCfg)
	if err != nil {
		return &domain.ErrConnectionFailed{
			DataSourceType: ds.dialect.DriverName(),
			Reason:         fmt.Sprintf("build DSN: %v", err),
		}
	}

	db, err := sql.Open(ds.dialect.DriverName(), dsn)
	if err != nil {
		return &domain.ErrConnectionFailed{
			DataSourceType: ds.dialect.DriverName(),
			Reason:         err.Error(),
		}
	}

	conn, err := ds.pin(ctx, db)
	if err != nil {
		db.Close()
		return err
	}

	ds.db = db
	ds.Session.attach(conn)
	ds.connected = true
	return nil
}

// pin takes one physical connection out of the pool and checks it.
func (ds *SQLCommonDataSource) pin(ctx context.Context, db *sql.DB) (*sql.Conn, error) {
	connectCtx, cancel := context.WithTimeout(ctx, time.Duration(ds.sqlCfg.ConnectTimeout)*time.Second)
	defer cancel()

	conn, err := db.Conn(connectCtx)
	if err == nil {
		err = conn.PingContext(connectCtx)
		if err != nil {
			conn.Close()
		}
	}
	if err != nil {
		return nil, &domain.ErrConnectionFailed{
			DataSourceType: ds.dialect.DriverName(),
			Reason:         err.Error(),
		}
	}
	return conn, nil
}

// OpenSession pins a new physical connection with default session state.
// The session stays valid until it is closed or the datasource is closed.
func (ds *SQLCommonDataSource) OpenSession(ctx context.Context) (domain.Session, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.connected {
		return nil, domain.NewErrNotConnected(ds.config.Name)
	}
	conn, err := ds.pin(ctx, ds.db)
	if err != nil {
		return nil, err
	}

	s := newSession(ds.config.Name, ds.dialect)
	s.release = ds.forget
	s.attach(conn)

	ds.smu.Lock()
	ds.sessions[s] = struct{}{}
	ds.smu.Unlock()
	return s, nil
}

func (ds *SQLCommonDataSource) forget(s *Session) {
	ds.smu.Lock()
	delete(ds.sessions, s)
	ds.smu.Unlock()
}

// openSessions snapshots the sessions handed out by OpenSession.
func (ds *SQLCommonDataSource) openSessions() []*Session {
	ds.smu.Lock()
	defer ds.smu.Unlock()

	sessions := make([]*Session, 0, len(ds.sessions))
	for s := range ds.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Close rolls back open transactions, closes every session and the pool.
func (ds *SQLCommonDataSource) Close(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.connected {
		return nil
	}
	ds.connected = false

	var errs []error
	for _, s := range ds.openSessions() {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ds.Session.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := ds.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Abort discards every physical connection without rolling back gracefully.
// The datasource is left disconnected.
func (ds *SQLCommonDataSource) Abort(ctx context.Context) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.connected {
		return domain.NewErrNotConnected(ds.config.Name)
	}
	ds.connected = false

	for _, s := range ds.openSessions() {
		_ = s.Abort(ctx)
	}
	err := ds.Session.Abort(ctx)
	if closeErr := ds.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

// IsConnected returns whether the datasource is connected.
func (ds *SQLCommonDataSource) IsConnected() bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.connected
}

// GetConfig returns the datasource configuration.
func (ds *SQLCommonDataSource) GetConfig() *domain.DataSourceConfig {
	return ds.config
}
