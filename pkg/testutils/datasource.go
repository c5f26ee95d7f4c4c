package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// StubDataSource 带生命周期的桩数据源
// 生命周期调用不计入 StubConn 的调用次数
type StubDataSource struct {
	*StubConn

	config *domain.DataSourceConfig

	lifecycle  sync.Mutex
	connected  bool
	closes     int
	ConnectErr error
	CloseErr   error
}

// NewStubDataSource 创建桩数据源
func NewStubDataSource(name string) *StubDataSource {
	return &StubDataSource{
		StubConn: NewStubConn(name),
		config:   &domain.DataSourceConfig{Type: "stub", Name: name},
	}
}

func (s *StubDataSource) Connect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.connected = true
	return nil
}

func (s *StubDataSource) Close(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.closes++
	s.connected = false
	return s.CloseErr
}

func (s *StubDataSource) IsConnected() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.connected
}

func (s *StubDataSource) GetConfig() *domain.DataSourceConfig {
	return s.config
}

// Closes 关闭次数
func (s *StubDataSource) Closes() int {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.closes
}

// StubFactory 创建 StubDataSource 的工厂
type StubFactory struct {
	Type    domain.DataSourceType
	Fail    bool
	mu      sync.Mutex
	created []*StubDataSource
}

// NewStubFactory 创建桩工厂
func NewStubFactory(t domain.DataSourceType) *StubFactory {
	return &StubFactory{Type: t}
}

func (f *StubFactory) Create(config *domain.DataSourceConfig) (domain.DataSource, error) {
	if f.Fail {
		return nil, errors.New("factory error")
	}
	ds := NewStubDataSource(config.Name)
	ds.config = config

	f.mu.Lock()
	f.created = append(f.created, ds)
	f.mu.Unlock()
	return ds, nil
}

func (f *StubFactory) GetType() domain.DataSourceType {
	return f.Type
}

// Created 已创建的数据源
func (f *StubFactory) Created() []*StubDataSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*StubDataSource(nil), f.created...)
}

// StubSession 由 StubSessionSource 打开的会话
type StubSession struct {
	*StubConn

	mu     sync.Mutex
	closes int
}

func (s *StubSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// Closes 关闭次数
func (s *StubSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// StubSessionSource 支持 domain.SessionOpener 的桩数据源
type StubSessionSource struct {
	*StubDataSource

	mu      sync.Mutex
	opened  []*StubSession
	OpenErr error
}

var _ domain.SessionOpener = (*StubSessionSource)(nil)

// NewStubSessionSource 创建支持会话的桩数据源
func NewStubSessionSource(name string) *StubSessionSource {
	return &StubSessionSource{StubDataSource: NewStubDataSource(name)}
}

func (s *StubSessionSource) OpenSession(ctx context.Context) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	session := &StubSession{StubConn: NewStubConn(s.Name())}
	s.opened = append(s.opened, session)
	return session, nil
}

// Sessions 已打开的会话（按打开顺序）
func (s *StubSessionSource) Sessions() []*StubSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*StubSession(nil), s.opened...)
}
