package application

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// ==================== 分片工厂注册表 ====================

// Registry 按分片类型保存工厂，CreateAndRegister 通过它把配置变成未连接的分片
type Registry struct {
	factories map[domain.DataSourceType]domain.DataSourceFactory
	mu        sync.RWMutex
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[domain.DataSourceType]domain.DataSourceFactory),
	}
}

// Register 注册工厂，同一类型只能注册一次
func (r *Registry) Register(factory domain.DataSourceFactory) error {
	if factory == nil {
		return &domain.ErrInvalidConfig{ConfigKey: "factory", Message: "factory is nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	shardType := factory.GetType()
	if _, exists := r.factories[shardType]; exists {
		return &domain.ErrInvalidConfig{ConfigKey: "type", Message: "factory for " + string(shardType) + " already registered"}
	}
	r.factories[shardType] = factory
	return nil
}

// Get 获取分片类型对应的工厂
func (r *Registry) Get(shardType domain.DataSourceType) (domain.DataSourceFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[shardType]
	if !ok {
		return nil, &domain.ErrInvalidConfig{ConfigKey: "type", Message: "unsupported shard type " + string(shardType)}
	}
	return factory, nil
}

// Create 按配置创建分片（未连接）
func (r *Registry) Create(config *domain.DataSourceConfig) (domain.DataSource, error) {
	if config == nil {
		return nil, &domain.ErrInvalidConfig{ConfigKey: "datasource", Message: "config is nil"}
	}
	if config.Name == "" {
		return nil, &domain.ErrInvalidConfig{ConfigKey: "name", Message: "shard name cannot be empty"}
	}
	factory, err := r.Get(config.Type)
	if err != nil {
		return nil, fmt.Errorf("shard %s: %w (registered: %v)", config.Name, err, r.List())
	}
	return factory.Create(config)
}

// List 已注册的分片类型（排序）
func (r *Registry) List() []domain.DataSourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.DataSourceType, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
