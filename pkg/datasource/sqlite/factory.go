package sqlite

import (
	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// SQLiteFactory creates SQLite shards.
type SQLiteFactory struct{}

// NewSQLiteFactory creates a new SQLiteFactory.
func NewSQLiteFactory() *SQLiteFactory {
	return &SQLiteFactory{}
}

// GetType returns the datasource type.
func (f *SQLiteFactory) GetType() domain.DataSourceType {
	return domain.DataSourceTypeSQLite
}

// Create creates a new, unconnected SQLite shard from config.
func (f *SQLiteFactory) Create(config *domain.DataSourceConfig) (domain.DataSource, error) {
	sqlCfg, err := sqlcommon.ParseSQLConfig(config)
	if err != nil {
		return nil, err
	}
	return NewSQLiteDataSource(config, sqlCfg), nil
}
