package postgresql

import (
	"fmt"
	"strings"

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// PostgreSQLDialect implements sql.Dialect for PostgreSQL.
type PostgreSQLDialect struct{}

func (d *PostgreSQLDialect) DriverName() string { return "postgres" }

func (d *PostgreSQLDialect) ProductName() string { return "PostgreSQL" }

func (d *PostgreSQLDialect) BuildDSN(dsCfg *domain.DataSourceConfig, sqlCfg *sqlcommon.SQLConfig) (string, error) {
	if dsCfg.Host == "" {
		return "", &domain.ErrInvalidConfig{ConfigKey: dsCfg.Name + ".host", Message: "host is required"}
	}
	port := dsCfg.Port
	if port <= 0 {
		port = 5432
	}

	parts := []string{
		fmt.Sprintf("host=%s", dsCfg.Host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", quoteValue(dsCfg.Username)),
		fmt.Sprintf("password=%s", quoteValue(dsCfg.Password)),
		fmt.Sprintf("dbname=%s", quoteValue(dsCfg.Database)),
		fmt.Sprintf("sslmode=%s", sqlCfg.SSLMode),
	}

	if sqlCfg.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", sqlCfg.Schema))
	}
	if sqlCfg.ConnectTimeout > 0 {
		parts = append(parts, fmt.Sprintf("connect_timeout=%d", sqlCfg.ConnectTimeout))
	}
	if sqlCfg.SSLCert != "" {
		parts = append(parts, fmt.Sprintf("sslcert=%s", sqlCfg.SSLCert))
	}
	if sqlCfg.SSLKey != "" {
		parts = append(parts, fmt.Sprintf("sslkey=%s", sqlCfg.SSLKey))
	}
	if sqlCfg.SSLRootCert != "" {
		parts = append(parts, fmt.Sprintf("sslrootcert=%s", sqlCfg.SSLRootCert))
	}

	return strings.Join(parts, " "), nil
}

// quoteValue quotes a key/value connection string value when it is empty or
// contains spaces or quotes.
func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func (d *PostgreSQLDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *PostgreSQLDialect) CatalogQuery() string { return "SELECT current_database()" }

func (d *PostgreSQLDialect) SchemaQuery() string { return "SELECT current_schema()" }

func (d *PostgreSQLDialect) VersionQuery() string { return "SHOW server_version" }

func (d *PostgreSQLDialect) IsolationQuery() string { return "SHOW transaction_isolation" }

func (d *PostgreSQLDialect) DefaultIsolation() string { return "read committed" }

func (d *PostgreSQLDialect) ReadOnlySQL(readOnly bool) string {
	if readOnly {
		return "SET SESSION CHARACTERISTICS AS TRANSACTION READ ONLY"
	}
	return "SET SESSION CHARACTERISTICS AS TRANSACTION READ WRITE"
}

// PostgreSQL reports notices asynchronously instead of keeping them per session.
func (d *PostgreSQLDialect) WarningsQuery() string { return "" }
