package application

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// ==================== 分片管理器 ====================

// DataSourceManager 管理逻辑库及其有序分片
// 实现 domain.Resolver：每次 Resolve 都读取当前成员
type DataSourceManager struct {
	sources      map[string]domain.DataSource // 分片名 -> 数据源
	databases    map[string][]string          // 逻辑库 -> 有序分片名
	owners       map[string]string            // 分片名 -> 逻辑库
	registry     *Registry
	enabledTypes map[domain.DataSourceType]bool
	mu           sync.RWMutex
}

var _ domain.Resolver = (*DataSourceManager)(nil)

// NewDataSourceManager 创建分片管理器
func NewDataSourceManager() *DataSourceManager {
	return NewDataSourceManagerWithRegistry(NewRegistry())
}

// NewDataSourceManagerWithRegistry 使用指定注册表创建分片管理器
func NewDataSourceManagerWithRegistry(registry *Registry) *DataSourceManager {
	return &DataSourceManager{
		sources:      make(map[string]domain.DataSource),
		databases:    make(map[string][]string),
		owners:       make(map[string]string),
		registry:     registry,
		enabledTypes: make(map[domain.DataSourceType]bool),
	}
}

// SetEnabledTypes 设置启用的数据源类型
func (m *DataSourceManager) SetEnabledTypes(types []domain.DataSourceType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enabledTypes = make(map[domain.DataSourceType]bool)
	for _, t := range types {
		m.enabledTypes[t] = true
	}
}

// IsTypeEnabled 检查数据源类型是否启用
func (m *DataSourceManager) IsTypeEnabled(t domain.DataSourceType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 未设置时全部启用
	if len(m.enabledTypes) == 0 {
		return true
	}
	return m.enabledTypes[t]
}

// AddDatabase 声明逻辑库（可以没有分片）
func (m *DataSourceManager) AddDatabase(name string) error {
	if name == "" {
		return &domain.ErrInvalidConfig{ConfigKey: "database", Message: "name cannot be empty"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.databases[name]; !exists {
		m.databases[name] = []string{}
	}
	return nil
}

// Register 将分片追加到逻辑库末尾
// 分片名全局唯一
func (m *DataSourceManager) Register(database string, ds domain.DataSource) error {
	if ds == nil {
		return &domain.ErrInvalidConfig{ConfigKey: "datasource", Message: "datasource cannot be nil"}
	}
	if err := m.AddDatabase(database); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := ds.Name()
	if owner, exists := m.owners[name]; exists {
		return &domain.ErrShardAlreadyRegistered{LogicalDatabase: owner, Shard: name}
	}

	m.sources[name] = ds
	m.owners[name] = database
	m.databases[database] = append(m.databases[database], name)
	return nil
}

// Unregister 关闭并移除分片
// 已打开的门面在下一次分发时看到新的成员
func (m *DataSourceManager) Unregister(ctx context.Context, shard string) error {
	m.mu.Lock()
	ds, exists := m.sources[shard]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("shard %s not found", shard)
	}

	database := m.owners[shard]
	delete(m.sources, shard)
	delete(m.owners, shard)

	names := m.databases[database]
	kept := make([]string, 0, len(names))
	for _, n := range names {
		if n != shard {
			kept = append(kept, n)
		}
	}
	m.databases[database] = kept
	m.mu.Unlock()

	if err := ds.Close(ctx); err != nil {
		return fmt.Errorf("failed to close shard %s: %w", shard, err)
	}
	return nil
}

// RemoveDatabase 关闭并移除逻辑库及其全部分片
func (m *DataSourceManager) RemoveDatabase(ctx context.Context, database string) error {
	shards, err := m.Shards(database)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, shard := range shards {
		if err := m.Unregister(ctx, shard); err != nil {
			result = multierror.Append(result, err)
		}
	}

	m.mu.Lock()
	delete(m.databases, database)
	m.mu.Unlock()

	return result.ErrorOrNil()
}

// Get 获取分片
func (m *DataSourceManager) Get(shard string) (domain.DataSource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds, ok := m.sources[shard]
	if !ok {
		return nil, fmt.Errorf("shard %s not found", shard)
	}
	return ds, nil
}

// Shards 逻辑库的有序分片名
func (m *DataSourceManager) Shards(database string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names, ok := m.databases[database]
	if !ok {
		return nil, domain.NewErrLogicalDatabaseNotFound(database)
	}
	return append([]string(nil), names...), nil
}

// Databases 列出逻辑库（已排序）
func (m *DataSourceManager) Databases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.databases))
	for name := range m.databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve 返回逻辑库当前的有序后端连接
func (m *DataSourceManager) Resolve(ctx context.Context, database string) ([]domain.BackingConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	names, ok := m.databases[database]
	if !ok {
		return nil, domain.NewErrLogicalDatabaseNotFound(database)
	}

	conns := make([]domain.BackingConn, 0, len(names))
	for _, name := range names {
		ds := m.sources[name]
		if !ds.IsConnected() {
			return nil, domain.NewErrNotConnected(name)
		}
		conns = append(conns, ds)
	}
	return conns, nil
}

// CreateFromConfig 从配置创建数据源（未连接）
func (m *DataSourceManager) CreateFromConfig(config *domain.DataSourceConfig) (domain.DataSource, error) {
	if config == nil {
		return nil, &domain.ErrInvalidConfig{ConfigKey: "datasource", Message: "config is nil"}
	}
	if !m.IsTypeEnabled(config.Type) {
		return nil, fmt.Errorf("data source type %s is not enabled", config.Type)
	}
	return m.registry.Create(config)
}

// CreateAndRegister 创建、连接并注册分片
func (m *DataSourceManager) CreateAndRegister(ctx context.Context, database string, config *domain.DataSourceConfig) error {
	ds, err := m.CreateFromConfig(config)
	if err != nil {
		return fmt.Errorf("failed to create shard: %w", err)
	}

	if err := ds.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect shard %s: %w", config.Name, err)
	}

	if err := m.Register(database, ds); err != nil {
		_ = ds.Close(ctx)
		return err
	}
	return nil
}

// ConnectAll 连接所有未连接的分片
func (m *DataSourceManager) ConnectAll(ctx context.Context) error {
	for _, s := range m.snapshot() {
		if s.ds.IsConnected() {
			continue
		}
		if err := s.ds.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect shard %s: %w", s.name, err)
		}
	}
	return nil
}

// CloseAll 关闭所有分片，返回全部关闭错误
func (m *DataSourceManager) CloseAll(ctx context.Context) error {
	var result *multierror.Error
	for _, s := range m.snapshot() {
		if err := s.ds.Close(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close shard %s: %w", s.name, err))
		}
	}
	return result.ErrorOrNil()
}

// GetStatus 获取分片连接状态
func (m *DataSourceManager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.sources))
	for name, ds := range m.sources {
		status[name] = ds.IsConnected()
	}
	return status
}

// GetRegistry 获取注册表
func (m *DataSourceManager) GetRegistry() *Registry {
	return m.registry
}

type namedDS struct {
	name string
	ds   domain.DataSource
}

// snapshot collects shards in a stable order so lifecycle calls run outside the lock.
func (m *DataSourceManager) snapshot() []namedDS {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make([]namedDS, 0, len(m.sources))
	for name, ds := range m.sources {
		sources = append(sources, namedDS{name, ds})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].name < sources[j].name })
	return sources
}
