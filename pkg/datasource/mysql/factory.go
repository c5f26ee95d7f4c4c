package mysql

import (
	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// MySQLFactory creates MySQL shards.
type MySQLFactory struct{}

// NewMySQLFactory creates a new MySQLFactory.
func NewMySQLFactory() *MySQLFactory {
	return &MySQLFactory{}
}

// GetType returns the datasource type.
func (f *MySQLFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeMySQL
}

// Create creates a new, unconnected MySQL shard from config.
func (f *MySQLFactory) Create(config *domain.DataSourceConfig) (domain.DataSource, error) {
	sqlCfg, err := sqlcommon.ParseSQLConfig(config)
	if err != nil {
		return nil, err
	}
	return NewMySQLDataSource(config, sqlCfg), nil
}
