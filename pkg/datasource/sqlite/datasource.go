package sqlite

import (
	_ "modernc.org/sqlite" // SQLite driver

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// SQLiteDataSource wraps SQLCommonDataSource with SQLite-specific dialect.
type SQLiteDataSource struct {
	*sqlcommon.SQLCommonDataSource
}

// NewSQLiteDataSource creates a new SQLite shard.
func NewSQLiteDataSource(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) *SQLiteDataSource {
	common := sqlcommon.NewSQLCommonDataSource(dsCfg, sqlCfg, &SQLiteDialect{})
	return &SQLiteDataSource{SQLCommonDataSource: common}
}

// NewMemoryDataSource creates an in-memory SQLite shard with default options.
func NewMemoryDataSource(name string) *SQLiteDataSource {
	config := &domain.DataSourceConfig{
		Type:     domain.DataSourceTypeSQLite,
		Name:     name,
		Database: MemoryDatabase,
	}
	// ParseSQLConfig only fails on malformed options
	sqlCfg, _ := sqlcommon.ParseSQLConfig(config)
	return NewSQLiteDataSource(config, sqlCfg)
}
