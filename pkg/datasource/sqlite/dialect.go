package sqlite

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// MemoryDatabase opens a private in-memory database per shard.
const MemoryDatabase = ":memory:"

// memoryDatabases 为每个内存分片生成唯一的共享缓存库名
var memoryDatabases atomic.Int64

// SQLiteDialect implements sql.Dialect for SQLite (modernc.org/sqlite).
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) ProductName() string { return "SQLite" }

// BuildDSN uses Database as the file path; an empty path means a private
// in-memory database.
//
// A plain :memory: database belongs to a single physical connection, so
// memory shards are opened as a uniquely named shared-cache database that
// every session of the shard sees.
func (d *SQLiteDialect) BuildDSN(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) (string, error) {
	path := dsCfg.Database
	if strings.Contains(path, "?") {
		return "", &domain.ErrInvalidConfig{ConfigKey: dsCfg.Name + ".database", Message: "path must not carry query parameters, use options"}
	}
	if path == "" || path == MemoryDatabase {
		name := fmt.Sprintf("shardconn-%s-%d", url.PathEscape(dsCfg.Name), memoryDatabases.Add(1))
		return fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(%d)", name, sqlCfg.BusyTimeout), nil
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, sqlCfg.BusyTimeout), nil
}

func (d *SQLiteDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *SQLiteDialect) CatalogQuery() string {
	return "SELECT name FROM pragma_database_list WHERE seq = 0"
}

func (d *SQLiteDialect) SchemaQuery() string {
	return "SELECT name FROM pragma_database_list WHERE seq = 0"
}

func (d *SQLiteDialect) VersionQuery() string { return "SELECT sqlite_version()" }

// SQLite transactions are always serializable.
func (d *SQLiteDialect) IsolationQuery() string { return "" }

func (d *SQLiteDialect) DefaultIsolation() string { return "SERIALIZABLE" }

func (d *SQLiteDialect) ReadOnlySQL(readOnly bool) string {
	if readOnly {
		return "PRAGMA query_only = ON"
	}
	return "PRAGMA query_only = OFF"
}

func (d *SQLiteDialect) WarningsQuery() string { return "" }
