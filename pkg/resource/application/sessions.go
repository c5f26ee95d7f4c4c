package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// ErrSessionsClosed 会话集合已关闭
var ErrSessionsClosed = errors.New("sessions closed")

// PrepareFunc 新会话在首次使用前执行，用于补齐调用方已记录的会话状态
type PrepareFunc func(ctx context.Context, conn domain.BackingConn) error

// SessionResolver 为单个调用方维护每个分片上的私有会话。
//
// 分片实现 domain.SessionOpener 时，首次解析到它会打开新会话并缓存，
// 之后同一分片实例总是返回同一会话；分片被替换或移出逻辑库时旧会话关闭。
// 不支持会话的分片原样返回，由全部调用方共享。
type SessionResolver struct {
	mu       sync.Mutex
	source   domain.Resolver
	prepare  PrepareFunc
	sessions map[string]*shardSession
	closed   bool
}

type shardSession struct {
	shard   domain.BackingConn
	session domain.Session
}

var _ domain.Resolver = (*SessionResolver)(nil)

// NewSessionResolver 在 source 之上创建会话解析器
func NewSessionResolver(source domain.Resolver) *SessionResolver {
	return &SessionResolver{
		source:   source,
		sessions: make(map[string]*shardSession),
	}
}

// SetPrepare 设置新会话的准备钩子
func (r *SessionResolver) SetPrepare(fn PrepareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prepare = fn
}

// Resolve 按 source 的顺序返回后端连接，分片替换为调用方私有的会话
func (r *SessionResolver) Resolve(ctx context.Context, database string) ([]domain.BackingConn, error) {
	shards, err := r.source.Resolve(ctx, database)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionsClosed
	}

	// 会话在调用之间存活，关闭不能受单次调用的 context 影响
	closeCtx := context.WithoutCancel(ctx)
	current := make(map[string]bool, len(shards))
	conns := make([]domain.BackingConn, 0, len(shards))
	for _, shard := range shards {
		name := shard.Name()
		current[name] = true

		opener, ok := shard.(domain.SessionOpener)
		if !ok {
			conns = append(conns, shard)
			continue
		}
		if open, ok := r.sessions[name]; ok {
			if open.shard == shard {
				conns = append(conns, open.session)
				continue
			}
			// 同名分片已被替换
			_ = open.session.Close(closeCtx)
			delete(r.sessions, name)
		}

		s, err := r.open(ctx, name, opener)
		if err != nil {
			return nil, err
		}
		r.sessions[name] = &shardSession{shard: shard, session: s}
		conns = append(conns, s)
	}

	for name, open := range r.sessions {
		if !current[name] {
			_ = open.session.Close(closeCtx)
			delete(r.sessions, name)
		}
	}
	return conns, nil
}

func (r *SessionResolver) open(ctx context.Context, name string, opener domain.SessionOpener) (domain.Session, error) {
	s, err := opener.OpenSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session on shard %s: %w", name, err)
	}
	if r.prepare != nil {
		if err := r.prepare(ctx, s); err != nil {
			_ = s.Close(context.WithoutCancel(ctx))
			return nil, fmt.Errorf("prepare session on shard %s: %w", name, err)
		}
	}
	return s, nil
}

// Len 当前打开的会话数
func (r *SessionResolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close 关闭全部会话，之后 Resolve 返回 ErrSessionsClosed。可重复调用。
func (r *SessionResolver) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var result *multierror.Error
	for name, open := range sessions {
		if err := open.session.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("close session on shard %s: %w", name, err))
		}
	}
	return result.ErrorOrNil()
}
