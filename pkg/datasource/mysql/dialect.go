package mysql

import (
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// MySQLDialect implements sql.Dialect for MySQL.
type MySQLDialect struct{}

func (d *MySQLDialect) DriverName() string { return "mysql" }

func (d *MySQLDialect) ProductName() string { return "MySQL" }

func (d *MySQLDialect) BuildDSN(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) (string, error) {
	if dsCfg.Host == "" {
		return "", &domain.ErrInvalidConfig{ConfigKey: dsCfg.Name + ".host", Message: "host is required"}
	}
	port := dsCfg.Port
	if port <= 0 {
		port = 3306
	}

	cfg := mysqldriver.NewConfig()
	cfg.User = dsCfg.Username
	cfg.Passwd = dsCfg.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", dsCfg.Host, port)
	cfg.DBName = dsCfg.Database
	cfg.AllowNativePasswords = true
	cfg.Collation = sqlCfg.Collation
	cfg.Params = map[string]string{
		"charset": sqlCfg.Charset,
	}

	if sqlCfg.ParseTime != nil && *sqlCfg.ParseTime {
		cfg.ParseTime = true
	}

	if sqlCfg.ConnectTimeout > 0 {
		cfg.Timeout = time.Duration(sqlCfg.ConnectTimeout) * time.Second
	}

	// TLS
	switch strings.ToLower(sqlCfg.SSLMode) {
	case "true", "required", "require":
		cfg.TLSConfig = "true"
	case "skip-verify", "preferred":
		cfg.TLSConfig = "skip-verify"
	case "false", "disable", "":
		cfg.TLSConfig = "false"
	default:
		cfg.TLSConfig = sqlCfg.SSLMode
	}

	return cfg.FormatDSN(), nil
}

func (d *MySQLDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MySQLDialect) CatalogQuery() string { return "SELECT DATABASE()" }

// MySQL has no schema level below the database.
func (d *MySQLDialect) SchemaQuery() string { return "SELECT DATABASE()" }

func (d *MySQLDialect) VersionQuery() string { return "SELECT VERSION()" }

func (d *MySQLDialect) IsolationQuery() string { return "SELECT @@transaction_isolation" }

func (d *MySQLDialect) DefaultIsolation() string { return "REPEATABLE-READ" }

func (d *MySQLDialect) ReadOnlySQL(readOnly bool) string {
	if readOnly {
		return "SET SESSION TRANSACTION READ ONLY"
	}
	return "SET SESSION TRANSACTION READ WRITE"
}

func (d *MySQLDialect) WarningsQuery() string { return "SHOW WARNINGS" }
