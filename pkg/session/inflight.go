package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var callSequence uint64

// Call 一次正在进行的后端调用
type Call struct {
	ID        string
	Operation string
	StartTime time.Time

	cancel   context.CancelFunc
	canceled atomic.Bool
}

// IsCanceled 是否已被取消
func (c *Call) IsCanceled() bool {
	return c.canceled.Load()
}

// Duration 已执行时长
func (c *Call) Duration() time.Duration {
	return time.Since(c.StartTime)
}

// Inflight 进行中调用的注册表
// Abort 通过它取消其他 goroutine 上尚未返回的调用
type Inflight struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

// NewInflight 创建注册表
func NewInflight() *Inflight {
	return &Inflight{calls: make(map[string]*Call)}
}

// Register 注册一次调用，返回可被取消的 context 和结束函数
// 结束函数必须被调用
func (r *Inflight) Register(ctx context.Context, operation string) (context.Context, *Call, func()) {
	ctx, cancel := context.WithCancel(ctx)
	call := &Call{
		ID:        generateCallID(),
		Operation: operation,
		StartTime: time.Now(),
		cancel:    cancel,
	}

	r.mu.Lock()
	r.calls[call.ID] = call
	r.mu.Unlock()

	return ctx, call, func() {
		r.mu.Lock()
		delete(r.calls, call.ID)
		r.mu.Unlock()
		cancel()
	}
}

// CancelAll 取消全部进行中的调用，返回被取消的数量
func (r *Inflight) CancelAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, call := range r.calls {
		call.canceled.Store(true)
		call.cancel()
	}
	return len(r.calls)
}

// Calls 获取全部进行中的调用
func (r *Inflight) Calls() []*Call {
	r.mu.RLock()
	defer r.mu.RUnlock()

	calls := make([]*Call, 0, len(r.calls))
	for _, call := range r.calls {
		calls = append(calls, call)
	}
	return calls
}

// Count 进行中的调用数量
func (r *Inflight) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

func generateCallID() string {
	seq := atomic.AddUint64(&callSequence, 1)
	return fmt.Sprintf("%d_%d", time.Now().UnixNano(), seq)
}
