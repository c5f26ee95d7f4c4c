package postgresql

import (
	_ "github.com/lib/pq" // PostgreSQL driver

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// PostgreSQLDataSource wraps SQLCommonDataSource with PostgreSQL-specific dialect.
type PostgreSQLDataSource struct {
	*sqlcommon.SQLCommonDataSource
}

// NewPostgreSQLDataSource creates a new PostgreSQL shard.
func NewPostgreSQLDataSource(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) *PostgreSQLDataSource {
	common := sqlcommon.NewSQLCommonDataSource(dsCfg, sqlCfg, &PostgreSQLDialect{})
	return &PostgreSQLDataSource{SQLCommonDataSource: common}
}
