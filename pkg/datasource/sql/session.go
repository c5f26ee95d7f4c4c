package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// Session is one pinned physical connection together with the state that
// belongs to it: the open transaction, autocommit mode, the isolation level
// for new transactions and whether warnings were cleared.
//
// A nil conn means the session is closed and every call fails with
// ErrNotConnected.
type Session struct {
	mu      sync.Mutex
	name    string
	dialect Dialect
	conn    *sql.Conn
	tx      *sql.Tx

	autoCommit      bool
	isolation       sql.IsolationLevel
	warningsCleared bool

	// release 通知所属数据源该会话已结束
	release func(*Session)
}

var _ domain.Session = (*Session)(nil)

func newSession(name string, dialect Dialect) *Session {
	return &Session{
		name:       name,
		dialect:    dialect,
		autoCommit: true,
		isolation:  sql.LevelDefault,
	}
}

// attach pins conn and resets the session state to the engine defaults.
func (s *Session) attach(conn *sql.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = conn
	s.tx = nil
	s.autoCommit = true
	s.isolation = sql.LevelDefault
	s.warningsCleared = false
}

// Name returns the shard name.
func (s *Session) Name() string {
	return s.name
}

func (s *Session) checkConnected() error {
	if s.conn == nil {
		return domain.NewErrNotConnected(s.name)
	}
	return nil
}

// Close rolls back any open transaction and returns the connection. Closing
// a closed session is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return nil
	}
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.mu.Unlock()

	s.done()
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("close session %s: %w", s.name, err)
	}
	return nil
}

// Abort discards the physical connection without rolling back gracefully.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkConnected(); err != nil {
		s.mu.Unlock()
		return err
	}
	// An open transaction holds the connection; it must be released before
	// the connection can be dropped.
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	// Returning ErrBadConn makes database/sql drop the driver connection
	// instead of returning it to the pool.
	err := s.conn.Raw(func(driverConn interface{}) error {
		return driver.ErrBadConn
	})
	_ = s.conn.Close()
	s.conn = nil
	s.mu.Unlock()

	s.done()
	if err != nil && !errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("abort: %w", err)
	}
	return nil
}

func (s *Session) done() {
	if s.release != nil {
		s.release(s)
	}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// session returns the transaction when one is open, the pinned connection otherwise.
func (s *Session) session() queryer {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

// statementSession begins the implicit transaction when autocommit is off.
func (s *Session) statementSession(ctx context.Context) (queryer, error) {
	if s.tx == nil && !s.autoCommit {
		if err := s.beginLocked(ctx, nil); err != nil {
			return nil, err
		}
	}
	return s.session(), nil
}

func (s *Session) scalar(ctx context.Context, query string) (string, error) {
	var value sql.NullString
	if err := s.session().QueryRowContext(ctx, query).Scan(&value); err != nil {
		return "", err
	}
	return value.String, nil
}

// Catalog returns the current catalog (database) name.
func (s *Session) Catalog(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return "", err
	}
	catalog, err := s.scalar(ctx, s.dialect.CatalogQuery())
	if err != nil {
		return "", fmt.Errorf("get catalog: %w", err)
	}
	return catalog, nil
}

// Schema returns the current schema name.
func (s *Session) Schema(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return "", err
	}
	schema, err := s.scalar(ctx, s.dialect.SchemaQuery())
	if err != nil {
		return "", fmt.Errorf("get schema: %w", err)
	}
	return schema, nil
}

// MetaData describes the backing engine.
func (s *Session) MetaData(ctx context.Context) (*domain.MetaData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	version, err := s.scalar(ctx, s.dialect.VersionQuery())
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return &domain.MetaData{
		ProductName:    s.dialect.ProductName(),
		ProductVersion: version,
		DriverName:     s.dialect.DriverName(),
		DataSource:     s.name,
	}, nil
}

// TransactionIsolation returns the level set through SetTransactionIsolation,
// or the session's level as reported by the engine.
func (s *Session) TransactionIsolation(ctx context.Context) (sql.IsolationLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return sql.LevelDefault, err
	}
	if s.isolation != sql.LevelDefault {
		return s.isolation, nil
	}

	name := s.dialect.DefaultIsolation()
	if query := s.dialect.IsolationQuery(); query != "" {
		var err error
		name, err = s.scalar(ctx, query)
		if err != nil {
			return sql.LevelDefault, fmt.Errorf("get transaction isolation: %w", err)
		}
	}
	return ParseIsolation(name)
}

// SetTransactionIsolation sets the level used by transactions begun afterwards.
func (s *Session) SetTransactionIsolation(ctx context.Context, level sql.IsolationLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx != nil {
		return &domain.ErrTransactionInProgress{DataSourceName: s.name, Operation: "set transaction isolation"}
	}
	s.isolation = level
	return nil
}

// SetAutoCommit switches autocommit mode. Enabling it commits the open
// transaction.
func (s *Session) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if autoCommit && s.tx != nil {
		err := s.tx.Commit()
		s.tx = nil
		if err != nil {
			return fmt.Errorf("commit on enabling autocommit: %w", err)
		}
	}
	s.autoCommit = autoCommit
	return nil
}

// SetReadOnly switches the session's read-only mode.
func (s *Session) SetReadOnly(ctx context.Context, readOnly bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx != nil {
		return &domain.ErrTransactionInProgress{DataSourceName: s.name, Operation: "set read-only"}
	}
	if _, err := s.conn.ExecContext(ctx, s.dialect.ReadOnlySQL(readOnly)); err != nil {
		return fmt.Errorf("set read-only: %w", err)
	}
	return nil
}

// Begin starts an explicit transaction.
func (s *Session) Begin(ctx context.Context, opts *sql.TxOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx != nil {
		return &domain.ErrTransactionInProgress{DataSourceName: s.name, Operation: "begin"}
	}
	return s.beginLocked(ctx, opts)
}

func (s *Session) beginLocked(ctx context.Context, opts *sql.TxOptions) error {
	txOpts := &sql.TxOptions{Isolation: s.isolation}
	if opts != nil {
		if opts.Isolation != sql.LevelDefault {
			txOpts.Isolation = opts.Isolation
		}
		txOpts.ReadOnly = opts.ReadOnly
	}

	// 事务跨越多次调用，不能随单次调用的 context 取消而回滚
	tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), txOpts)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction. With autocommit off and nothing
// executed yet there is nothing to commit.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx == nil {
		return s.noTransaction("commit")
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback rolls back the open transaction.
func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx == nil {
		return s.noTransaction("rollback")
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (s *Session) noTransaction(operation string) error {
	if s.autoCommit {
		return &domain.ErrNoActiveTransaction{DataSourceName: s.name, Operation: operation}
	}
	return nil
}

// SetSavepoint creates a named savepoint inside the current transaction.
func (s *Session) SetSavepoint(ctx context.Context, name string) error {
	return s.savepoint(ctx, "set savepoint", "SAVEPOINT "+s.dialect.QuoteIdentifier(name))
}

// RollbackToSavepoint rolls back to a named savepoint.
func (s *Session) RollbackToSavepoint(ctx context.Context, name string) error {
	return s.savepoint(ctx, "rollback to savepoint", "ROLLBACK TO SAVEPOINT "+s.dialect.QuoteIdentifier(name))
}

// ReleaseSavepoint releases a named savepoint.
func (s *Session) ReleaseSavepoint(ctx context.Context, name string) error {
	return s.savepoint(ctx, "release savepoint", "RELEASE SAVEPOINT "+s.dialect.QuoteIdentifier(name))
}

func (s *Session) savepoint(ctx context.Context, operation, statement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	if s.tx == nil && s.autoCommit {
		return &domain.ErrNoActiveTransaction{DataSourceName: s.name, Operation: operation}
	}
	q, err := s.statementSession(ctx)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

// Warnings returns the warnings of the last statement, unless cleared since.
func (s *Session) Warnings(ctx context.Context) ([]domain.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	query := s.dialect.WarningsQuery()
	if query == "" || s.warningsCleared {
		return nil, nil
	}

	rows, err := s.session().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get warnings: %w", err)
	}
	defer rows.Close()

	var warnings []domain.Warning
	for rows.Next() {
		var w domain.Warning
		if err := rows.Scan(&w.Level, &w.Code, &w.Message); err != nil {
			return nil, fmt.Errorf("scan warning: %w", err)
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}

// ClearWarnings hides the current warnings until the next statement runs.
func (s *Session) ClearWarnings(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	s.warningsCleared = true
	return nil
}

// Ping verifies the pinned connection is alive.
func (s *Session) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return err
	}
	return s.conn.PingContext(ctx)
}

// Exec runs a statement that returns no rows.
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (*domain.ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	q, err := s.statementSession(ctx)
	if err != nil {
		return nil, err
	}
	s.warningsCleared = false

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}

	affected, _ := result.RowsAffected()
	// PostgreSQL does not support LastInsertId
	lastID, _ := result.LastInsertId()
	return &domain.ExecResult{RowsAffected: affected, LastInsertID: lastID}, nil
}

// Query runs a statement and materializes its rows.
func (s *Session) Query(ctx context.Context, query string, args ...interface{}) (*domain.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	q, err := s.statementSession(ctx)
	if err != nil {
		return nil, err
	}
	s.warningsCleared = false

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	return ScanRows(rows)
}
