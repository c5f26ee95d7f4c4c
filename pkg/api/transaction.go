package api

import (
	"context"
	"sync"
)

// Transaction 事务对象（不支持嵌套）
// 提交和回滚在每个分片上独立执行，不提供跨分片原子性
type Transaction struct {
	conn   *Connection
	active bool
	mu     sync.Mutex
}

func newTransaction(conn *Connection) *Transaction {
	return &Transaction{
		conn:   conn,
		active: true,
	}
}

func (t *Transaction) checkActive() error {
	if !t.active {
		return NewError(ErrCodeTransaction, "transaction is not active", nil)
	}
	return nil
}

// Query 事务内查询
func (t *Transaction) Query(ctx context.Context, query string, args ...interface{}) (*Query, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.conn.QueryContext(ctx, query, args...)
}

// Execute 事务内执行
func (t *Transaction) Execute(ctx context.Context, query string, args ...interface{}) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return nil, err
	}
	return t.conn.ExecContext(ctx, query, args...)
}

// Savepoint 创建保存点
func (t *Transaction) Savepoint(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return "", err
	}
	return t.conn.SetSavepoint(ctx, name)
}

// RollbackTo 回滚到保存点
func (t *Transaction) RollbackTo(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return err
	}
	return t.conn.RollbackToSavepoint(ctx, name)
}

// Commit 提交事务；失败时事务保持活跃，可继续 Rollback
func (t *Transaction) Commit(ctx context.Context) error {
	return t.end(ctx, t.conn.Commit)
}

// Rollback 回滚事务
func (t *Transaction) Rollback(ctx context.Context) error {
	return t.end(ctx, t.conn.Rollback)
}

func (t *Transaction) end(ctx context.Context, fn func(context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkActive(); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	t.active = false
	return nil
}

// IsActive 检查事务是否活跃
func (t *Transaction) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
