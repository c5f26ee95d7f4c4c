// Package session holds the state a sharded connection owns itself: the
// values its callers read back without touching any shard.
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed 连接已关闭
var ErrClosed = errors.New("connection is closed")

// Holdability 结果集在提交后的保持方式
type Holdability int

const (
	// HoldCursorsOverCommit 提交后结果集保持打开（默认）
	HoldCursorsOverCommit Holdability = iota + 1
	// CloseCursorsAtCommit 提交时关闭结果集
	CloseCursorsAtCommit
)

// DefaultHoldability 新连接的默认保持方式
const DefaultHoldability = HoldCursorsOverCommit

func (h Holdability) String() string {
	switch h {
	case HoldCursorsOverCommit:
		return "HOLD_CURSORS_OVER_COMMIT"
	case CloseCursorsAtCommit:
		return "CLOSE_CURSORS_AT_COMMIT"
	default:
		return fmt.Sprintf("Holdability(%d)", int(h))
	}
}

// Valid reports whether h is one of the defined values.
func (h Holdability) Valid() bool {
	return h == HoldCursorsOverCommit || h == CloseCursorsAtCommit
}

// Snapshot 状态快照
type Snapshot struct {
	AutoCommit     bool
	ReadOnly       bool
	Holdability    Holdability
	NetworkTimeout time.Duration
	Isolation      sql.IsolationLevel
	Catalog        string
	Schema         string
	InTransaction  bool
	Closed         bool
}

// State 连接自身维护的状态
// 读取不做任何 I/O；写入先检查是否已关闭
type State struct {
	mu             sync.RWMutex
	autoCommit     bool
	readOnly       bool
	holdability    Holdability
	networkTimeout time.Duration
	isolation      sql.IsolationLevel
	catalog        string
	schema         string
	inTransaction  bool
	closed         bool
}

// NewState 创建默认状态
func NewState() *State {
	return &State{
		autoCommit:  true,
		holdability: DefaultHoldability,
		isolation:   sql.LevelDefault,
	}
}

// CheckOpen 已关闭时返回 ErrClosed
func (s *State) CheckOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// update runs fn under the write lock unless the state is closed.
func (s *State) update(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	fn()
	return nil
}

// AutoCommit 获取自动提交
func (s *State) AutoCommit() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.autoCommit
}

// SetAutoCommit 记录自动提交
// 开启自动提交会结束进行中的事务
func (s *State) SetAutoCommit(autoCommit bool) error {
	return s.update(func() {
		s.autoCommit = autoCommit
		if autoCommit {
			s.inTransaction = false
		}
	})
}

// ReadOnly 获取只读标志
func (s *State) ReadOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readOnly
}

// SetReadOnly 记录只读标志
func (s *State) SetReadOnly(readOnly bool) error {
	return s.update(func() { s.readOnly = readOnly })
}

// Holdability 获取保持方式
func (s *State) Holdability() Holdability {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.holdability
}

// SetHoldability 记录保持方式
func (s *State) SetHoldability(h Holdability) error {
	if !h.Valid() {
		return fmt.Errorf("invalid holdability: %d", int(h))
	}
	return s.update(func() { s.holdability = h })
}

// NetworkTimeout 获取网络超时
func (s *State) NetworkTimeout() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkTimeout
}

// SetNetworkTimeout 记录网络超时，0 表示不限制
func (s *State) SetNetworkTimeout(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("network timeout must not be negative: %v", d)
	}
	return s.update(func() { s.networkTimeout = d })
}

// Isolation 最近一次成功设置的隔离级别
func (s *State) Isolation() sql.IsolationLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isolation
}

// SetIsolation 记录隔离级别
func (s *State) SetIsolation(level sql.IsolationLevel) error {
	return s.update(func() { s.isolation = level })
}

// Catalog 调用方声明的 catalog（仅作提示，不下发到分片）
func (s *State) Catalog() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// SetCatalog 记录 catalog 提示
func (s *State) SetCatalog(catalog string) error {
	return s.update(func() { s.catalog = catalog })
}

// Schema 调用方声明的 schema（仅作提示）
func (s *State) Schema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// SetSchema 记录 schema 提示
func (s *State) SetSchema(schema string) error {
	return s.update(func() { s.schema = schema })
}

// InTransaction 是否有显式事务
func (s *State) InTransaction() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inTransaction
}

// SetInTransaction 记录显式事务的开始或结束
func (s *State) SetInTransaction(active bool) error {
	return s.update(func() { s.inTransaction = active })
}

// IsClosed 是否已关闭
func (s *State) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// MarkClosed 标记关闭，返回此前是否已关闭
func (s *State) MarkClosed() (wasClosed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wasClosed = s.closed
	s.closed = true
	s.inTransaction = false
	return wasClosed
}

// Snapshot 返回当前状态的副本
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		AutoCommit:     s.autoCommit,
		ReadOnly:       s.readOnly,
		Holdability:    s.holdability,
		NetworkTimeout: s.networkTimeout,
		Isolation:      s.isolation,
		Catalog:        s.catalog,
		Schema:         s.schema,
		InTransaction:  s.inTransaction,
		Closed:         s.closed,
	}
}
