package mysql

import (
	"testing"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sqlcommon "github.com/kasuganosora/shardconn/pkg/datasource/sql"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

func TestMySQLDialect_BuildDSN(t *testing.T) {
	d := &MySQLDialect{}
	dsCfg := &domain.DataSourceConfig{
		Type:     domain.DataSourceTypeMySQL,
		Name:     "ds_0",
		Host:     "db0.internal",
		Username: "app",
		Password: "p@ss:word",
		Database: "orders_0",
	}
	sqlCfg, err := sqlcommon.ParseSQLConfig(dsCfg)
	require.NoError(t, err)

	dsn, err := d.BuildDSN(dsCfg, sqlCfg)
	require.NoError(t, err)

	parsed, err := mysqldriver.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "app", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "db0.internal:3306", parsed.Addr)
	assert.Equal(t, "orders_0", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, 10*time.Second, parsed.Timeout)
	assert.Equal(t, "utf8mb4_unicode_ci", parsed.Collation)
}

func TestMySQLDialect_BuildDSNRequiresHost(t *testing.T) {
	d := &MySQLDialect{}
	dsCfg := &domain.DataSourceConfig{Name: "ds_0"}
	sqlCfg, err := sqlcommon.ParseSQLConfig(dsCfg)
	require.NoError(t, err)

	_, err = d.BuildDSN(dsCfg, sqlCfg)
	var invalid *domain.ErrInvalidConfig
	assert.ErrorAs(t, err, &invalid)
}

func TestMySQLDialect_QuoteIdentifier(t *testing.T) {
	d := &MySQLDialect{}
	tests := []struct {
		input, want string
	}{
		{"sp1", "`sp1`"},
		{"my`savepoint", "`my``savepoint`"},
		{"order", "`order`"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.QuoteIdentifier(tt.input))
	}
}

func TestMySQLDialect_SessionStatements(t *testing.T) {
	d := &MySQLDialect{}
	assert.Equal(t, "SET SESSION TRANSACTION READ ONLY", d.ReadOnlySQL(true))
	assert.Equal(t, "SET SESSION TRANSACTION READ WRITE", d.ReadOnlySQL(false))
	assert.Equal(t, "SHOW WARNINGS", d.WarningsQuery())
	assert.Equal(t, "SELECT @@transaction_isolation", d.IsolationQuery())
}

func TestMySQLFactory(t *testing.T) {
	f := NewMySQLFactory()
	assert.Equal(t, domain.DataSourceTypeMySQL, f.GetType())

	ds, err := f.Create(&domain.DataSourceConfig{Type: domain.DataSourceTypeMySQL, Name: "ds_0", Host: "localhost"})
	require.NoError(t, err)
	assert.Equal(t, "ds_0", ds.Name())
	assert.False(t, ds.IsConnected())
}
