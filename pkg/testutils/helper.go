package testutils

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// ErrInjected 注入的失败
var ErrInjected = errors.New("injected backing failure")

// StubConn 计数的后端连接桩
// 记录每个方法被调用的次数，并可按方法名注入失败
type StubConn struct {
	name string

	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
	hook     func(method string)

	CatalogName string
	SchemaName  string
	Isolation   sql.IsolationLevel
	WarningList []domain.Warning
	QueryRows   *domain.QueryResult
	ExecResult  *domain.ExecResult
}

// NewStubConn 创建桩连接
func NewStubConn(name string) *StubConn {
	return &StubConn{
		name:        name,
		calls:       make(map[string]int),
		failures:    make(map[string]error),
		CatalogName: name,
		SchemaName:  "public",
		Isolation:   sql.LevelDefault,
	}
}

// NewStubSet 创建 n 个桩连接，名称为 ds_0..ds_{n-1}
func NewStubSet(n int) []*StubConn {
	stubs := make([]*StubConn, n)
	for i := range stubs {
		stubs[i] = NewStubConn(fmt.Sprintf("ds_%d", i))
	}
	return stubs
}

// AsBacking 转换为 domain.BackingConn 切片
func AsBacking(stubs []*StubConn) []domain.BackingConn {
	conns := make([]domain.BackingConn, len(stubs))
	for i, s := range stubs {
		conns[i] = s
	}
	return conns
}

// TotalCalls 所有桩连接的调用总数
func TotalCalls(stubs []*StubConn) int {
	total := 0
	for _, s := range stubs {
		total += s.TotalCalls()
	}
	return total
}

// FailOn 让指定方法返回 err
func (s *StubConn) FailOn(method string, err error) *StubConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method] = err
	return s
}

// OnCall 设置调用钩子（在失败注入之前执行）
func (s *StubConn) OnCall(hook func(method string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Calls 返回方法的调用次数
func (s *StubConn) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// TotalCalls 返回全部调用次数
func (s *StubConn) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

func (s *StubConn) record(method string) error {
	s.mu.Lock()
	s.calls[method]++
	hook := s.hook
	err := s.failures[method]
	s.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	return err
}

func (s *StubConn) Name() string { return s.name }

func (s *StubConn) Catalog(ctx context.Context) (string, error) {
	if err := s.record("Catalog"); err != nil {
		return "", err
	}
	return s.CatalogName, nil
}

func (s *StubConn) Schema(ctx context.Context) (string, error) {
	if err := s.record("Schema"); err != nil {
		return "", err
	}
	return s.SchemaName, nil
}

func (s *StubConn) MetaData(ctx context.Context) (*domain.MetaData, error) {
	if err := s.record("MetaData"); err != nil {
		return nil, err
	}
	return &domain.MetaData{ProductName: "stub", ProductVersion: "1.0", DriverName: "stub", DataSource: s.name}, nil
}

func (s *StubConn) TransactionIsolation(ctx context.Context) (sql.IsolationLevel, error) {
	if err := s.record("TransactionIsolation"); err != nil {
		return sql.LevelDefault, err
	}
	return s.Isolation, nil
}

func (s *StubConn) SetTransactionIsolation(ctx context.Context, level sql.IsolationLevel) error {
	if err := s.record("SetTransactionIsolation"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Isolation = level
	s.mu.Unlock()
	return nil
}

func (s *StubConn) SetAutoCommit(ctx context.Context, autoCommit bool) error {
	return s.record("SetAutoCommit")
}

func (s *StubConn) SetReadOnly(ctx context.Context, readOnly bool) error {
	return s.record("SetReadOnly")
}

func (s *StubConn) Begin(ctx context.Context, opts *sql.TxOptions) error {
	return s.record("Begin")
}

func (s *StubConn) Commit(ctx context.Context) error {
	return s.record("Commit")
}

func (s *StubConn) Rollback(ctx context.Context) error {
	return s.record("Rollback")
}

func (s *StubConn) SetSavepoint(ctx context.Context, name string) error {
	return s.record("SetSavepoint")
}

func (s *StubConn) RollbackToSavepoint(ctx context.Context, name string) error {
	return s.record("RollbackToSavepoint")
}

func (s *StubConn) ReleaseSavepoint(ctx context.Context, name string) error {
	return s.record("ReleaseSavepoint")
}

func (s *StubConn) Warnings(ctx context.Context) ([]domain.Warning, error) {
	if err := s.record("Warnings"); err != nil {
		return nil, err
	}
	return s.WarningList, nil
}

func (s *StubConn) ClearWarnings(ctx context.Context) error {
	return s.record("ClearWarnings")
}

func (s *StubConn) Ping(ctx context.Context) error {
	return s.record("Ping")
}

func (s *StubConn) Abort(ctx context.Context) error {
	return s.record("Abort")
}

func (s *StubConn) Exec(ctx context.Context, query string, args ...interface{}) (*domain.ExecResult, error) {
	if err := s.record("Exec"); err != nil {
		return nil, err
	}
	if s.ExecResult != nil {
		return s.ExecResult, nil
	}
	return &domain.ExecResult{RowsAffected: 1}, nil
}

func (s *StubConn) Query(ctx context.Context, query string, args ...interface{}) (*domain.QueryResult, error) {
	if err := s.record("Query"); err != nil {
		return nil, err
	}
	if s.QueryRows != nil {
		return s.QueryRows, nil
	}
	return &domain.QueryResult{Columns: []string{"shard"}, Rows: [][]interface{}{{s.name}}}, nil
}
