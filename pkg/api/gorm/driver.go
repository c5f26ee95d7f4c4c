package gorm

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kasuganosora/shardconn/pkg/api"
)

// ---------------------------------------------------------------------------
// database/sql/driver implementation over a sharded connection
//
//   connector → wraps *api.Connection
//   conn      → QueryerContext / ExecerContext / ConnBeginTx / Pinger
//   rows      → materialized api.Query rows as driver.Value
//   tx        → api.Transaction (AGGREGATE begin/commit/rollback)
//
// Usage:
//   sqlDB := OpenDB(conn)
// ---------------------------------------------------------------------------

// shardDriver is a minimal driver.Driver. Use NewConnector instead of Open.
type shardDriver struct{}

func (d *shardDriver) Open(_ string) (driver.Conn, error) {
	return nil, fmt.Errorf("shardconn: use sql.OpenDB(NewConnector(conn)) instead of sql.Open")
}

// NewConnector creates a driver.Connector that routes all SQL through the
// given logical connection.
func NewConnector(conn *api.Connection) driver.Connector {
	return &connector{conn: conn}
}

type connector struct {
	conn *api.Connection
}

func (c *connector) Connect(_ context.Context) (driver.Conn, error) {
	if c.conn.IsClosed() {
		return nil, api.ErrClosed
	}
	return &conn{conn: c.conn}, nil
}

func (c *connector) Driver() driver.Driver {
	return &shardDriver{}
}

// OpenDB 创建经由逻辑连接执行的 *sql.DB
// 逻辑连接只有一个会话状态，因此连接池固定为 1
func OpenDB(c *api.Connection) *sql.DB {
	db := sql.OpenDB(NewConnector(c))
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db
}

// conn implements driver.Conn. By implementing the Context variants,
// database/sql skips the Prepare path.
type conn struct {
	conn *api.Connection
	tx   *api.Transaction
}

var (
	_ driver.QueryerContext = (*conn)(nil)
	_ driver.ExecerContext  = (*conn)(nil)
	_ driver.ConnBeginTx    = (*conn)(nil)
	_ driver.Pinger         = (*conn)(nil)
)

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return &stmt{conn: c, query: query}, nil
}

// Close 只释放 driver 连接，逻辑连接由调用方关闭
func (c *conn) Close() error {
	return nil
}

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx 在逻辑连接的全部分片上开启事务
func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	tx, err := c.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.IsolationLevel(opts.Isolation),
		ReadOnly:  opts.ReadOnly,
	})
	if err != nil {
		return nil, badConn(err)
	}
	c.tx = tx
	return &shardTx{conn: c, tx: tx}, nil
}

func (c *conn) Ping(ctx context.Context) error {
	return badConn(c.conn.Ping(ctx))
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	var (
		q   *api.Query
		err error
	)
	if c.tx != nil {
		q, err = c.tx.Query(ctx, query, namedValuesToArgs(args)...)
	} else {
		q, err = c.conn.QueryContext(ctx, query, namedValuesToArgs(args)...)
	}
	if err != nil {
		return nil, badConn(err)
	}
	return newResultRows(q), nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	var (
		r   *api.Result
		err error
	)
	if c.tx != nil {
		r, err = c.tx.Execute(ctx, query, namedValuesToArgs(args)...)
	} else {
		r, err = c.conn.ExecContext(ctx, query, namedValuesToArgs(args)...)
	}
	if err != nil {
		return nil, badConn(err)
	}
	return &execResult{affected: r.RowsAffected, insertID: r.LastInsertID}, nil
}

// badConn 逻辑连接关闭后让 database/sql 丢弃 driver 连接
func badConn(err error) error {
	if err != nil && api.IsErrorCode(err, api.ErrCodeClosed) {
		return errors.Join(driver.ErrBadConn, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// shardTx
// ---------------------------------------------------------------------------

type shardTx struct {
	conn *conn
	tx   *api.Transaction
}

func (t *shardTx) Commit() error {
	return t.end(t.tx.Commit)
}

func (t *shardTx) Rollback() error {
	return t.end(t.tx.Rollback)
}

func (t *shardTx) end(fn func(context.Context) error) error {
	if err := fn(context.Background()); err != nil {
		return err
	}
	t.conn.tx = nil
	return nil
}

// ---------------------------------------------------------------------------
// stmt — fallback prepared-statement path
// ---------------------------------------------------------------------------

type stmt struct {
	conn  *conn
	query string
}

func (s *stmt) Close() error  { return nil }
func (s *stmt) NumInput() int { return -1 }

func (s *stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, valuesToNamed(args))
}

func (s *stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, valuesToNamed(args))
}

// ---------------------------------------------------------------------------
// resultRows — driver.Rows backed by a materialized api.Query
// ---------------------------------------------------------------------------

type resultRows struct {
	columns []string
	data    [][]driver.Value
	index   int
}

func newResultRows(q *api.Query) *resultRows {
	defer q.Close()

	columns := q.Columns()
	rows := &resultRows{columns: columns}
	for q.Next() {
		row := q.Row()
		values := make([]driver.Value, len(columns))
		for i, col := range columns {
			values[i] = toDriverValue(row[col])
		}
		rows.data = append(rows.data, values)
	}
	return rows
}

func (r *resultRows) Columns() []string { return r.columns }
func (r *resultRows) Close() error      { return nil }

func (r *resultRows) Next(dest []driver.Value) error {
	if r.index >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.index])
	r.index++
	return nil
}

type execResult struct {
	affected int64
	insertID int64
}

func (r *execResult) LastInsertId() (int64, error) { return r.insertID, nil }
func (r *execResult) RowsAffected() (int64, error) { return r.affected, nil }

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func namedValuesToArgs(named []driver.NamedValue) []interface{} {
	args := make([]interface{}, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	return args
}

func valuesToNamed(vals []driver.Value) []driver.NamedValue {
	named := make([]driver.NamedValue, len(vals))
	for i, v := range vals {
		named[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return named
}

// toDriverValue converts a shard value to a valid driver.Value.
// driver.Value must be one of: nil, int64, float64, bool, []byte, string, time.Time.
func toDriverValue(v interface{}) driver.Value {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		// SQLite 把时间存成文本
		if t, err := parseTimeString(val); err == nil {
			return t
		}
		return val
	case int64, float64, bool, []byte:
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case uint:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var timeFormats = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05 -0700",
}

// parseTimeString attempts to parse a string as a time.Time.
func parseTimeString(s string) (time.Time, error) {
	// 过短的字符串不可能是时间
	if len(s) < len("2006-01-02 15:04:05") {
		return time.Time{}, fmt.Errorf("not a timestamp")
	}
	for _, format := range timeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp")
}
