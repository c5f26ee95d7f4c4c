package postgresql

import (
	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// PostgreSQLFactory creates PostgreSQL shards.
type PostgreSQLFactory struct{}

// NewPostgreSQLFactory creates a new PostgreSQLFactory.
func NewPostgreSQLFactory() *PostgreSQLFactory {
	return &PostgreSQLFactory{}
}

// GetType returns the datasource type.
func (f *PostgreSQLFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypePostgreSQL
}

// Create creates a new, unconnected PostgreSQL shard from config.
func (f *PostgreSQLFactory) Create(config *domain.DataSourceConfig) (domain.DataSource, error) {
	sqlCfg, err := sqlcommon.ParseSQLConfig(config)
	if err != nil {
		return nil, err
	}
	return NewPostgreSQLDataSource(config, sqlCfg), nil
}
