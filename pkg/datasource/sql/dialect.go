package sql

import (
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

// Dialect encapsulates database-engine-specific behavior.
type Dialect interface {
	// DriverName returns the database/sql driver name
	DriverName() string

	// ProductName is reported in connection metadata
	ProductName() string

	// BuildDSN constructs the driver-specific connection string
	BuildDSN(dsCfg *domain.DataSourceConfig, sqlCfg *SQLConfig) (string, error)

	// QuoteIdentifier wraps a name in dialect-specific quoting
	QuoteIdentifier(name string) string

	// CatalogQuery returns a single-value query for the current catalog
	CatalogQuery() string

	// SchemaQuery returns a single-value query for the current schema
	SchemaQuery() string

	// VersionQuery returns a single-value query for the server version
	VersionQuery() string

	// IsolationQuery returns a single-value query for the session isolation
	// level, or "" when the engine has a fixed level (see DefaultIsolation)
	IsolationQuery() string

	// DefaultIsolation is reported when IsolationQuery is empty
	DefaultIsolation() string

	// ReadOnlySQL returns the statement that switches the session's read-only mode
	ReadOnlySQL(readOnly bool) string

	// WarningsQuery returns a query yielding (level, code, message) rows, or ""
	// when the engine keeps no per-session warnings
	WarningsQuery() string
}
