package mysql

import (
	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// MySQLDataSource wraps SQLCommonDataSource with MySQL-specific dialect.
type MySQLDataSource struct {
	*sqlcommon.SQLCommonDataSource
}

// NewMySQLDataSource creates a new MySQL shard.
func NewMySQLDataSource(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) *MySQLDataSource {
	common := sqlcommon.NewSQLCommonDataSource(dsCfg, sqlCfg, &MySQLDialect{})
	return &MySQLDataSource{SQLCommonDataSource: common}
}
