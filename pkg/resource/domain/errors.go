package domain

import "fmt"

// 数据源领域错误

// ErrNotConnected 未连接错误
type ErrNotConnected struct {
	DataSourceName string
}

func (e *ErrNotConnected) Error() string {
	return fmt.Sprintf("data source %s is not connected", e.DataSourceName)
}

// ErrConnectionFailed 连接失败错误
type ErrConnectionFailed struct {
	DataSourceType string
	Reason         string
}

func (e *ErrConnectionFailed) Error() string {
	return fmt.Sprintf("failed to connect to %s data source: %s", e.DataSourceType, e.Reason)
}

// ErrInvalidConfig 配置无效错误
type ErrInvalidConfig struct {
	ConfigKey string
	Message   string
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid config for %s: %s", e.ConfigKey, e.Message)
}

// ErrUnsupportedOperation 后端不支持的操作
type ErrUnsupportedOperation struct {
	DataSourceType string
	Operation      string
}

func (e *ErrUnsupportedOperation) Error() string {
	return fmt.Sprintf("operation %s is not supported by %s data source", e.Operation, e.DataSourceType)
}

// ErrLogicalDatabaseNotFound 逻辑库不存在
type ErrLogicalDatabaseNotFound struct {
	Name string
}

func (e *ErrLogicalDatabaseNotFound) Error() string {
	return fmt.Sprintf("logical database %s not found", e.Name)
}

// ErrShardAlreadyRegistered 分片重复注册
type ErrShardAlreadyRegistered struct {
	LogicalDatabase string
	Shard           string
}

func (e *ErrShardAlreadyRegistered) Error() string {
	return fmt.Sprintf("shard %s already registered in logical database %s", e.Shard, e.LogicalDatabase)
}

// ErrNoActiveTransaction 没有活动事务
type ErrNoActiveTransaction struct {
	DataSourceName string
	Operation      string
}

func (e *ErrNoActiveTransaction) Error() string {
	return fmt.Sprintf("%s on data source %s requires an active transaction", e.Operation, e.DataSourceName)
}

// ErrTransactionInProgress 事务进行中
type ErrTransactionInProgress struct {
	DataSourceName string
	Operation      string
}

func (e *ErrTransactionInProgress) Error() string {
	return fmt.Sprintf("cannot %s on data source %s while a transaction is in progress", e.Operation, e.DataSourceName)
}

// 辅助函数

// NewErrNotConnected 创建未连接错误
func NewErrNotConnected(name string) *ErrNotConnected {
	return &ErrNotConnected{DataSourceName: name}
}

// NewErrUnsupportedOperation 创建不支持操作错误
func NewErrUnsupportedOperation(dataSourceType, operation string) *ErrUnsupportedOperation {
	return &ErrUnsupportedOperation{DataSourceType: dataSourceType, Operation: operation}
}

// NewErrLogicalDatabaseNotFound 创建逻辑库不存在错误
func NewErrLogicalDatabaseNotFound(name string) *ErrLogicalDatabaseNotFound {
	return &ErrLogicalDatabaseNotFound{Name: name}
}
