package domain

// DataSourceType 数据源类型
type DataSourceType string

// String 返回数据源类型的字符串表示
func (t DataSourceType) String() string {
	return string(t)
}

const (
	// DataSourceTypeMySQL MySQL数据源
	DataSourceTypeMySQL DataSourceType = "mysql"
	// DataSourceTypePostgreSQL PostgreSQL数据源
	DataSourceTypePostgreSQL DataSourceType = "postgresql"
	// DataSourceTypeSQLite SQLite数据源
	DataSourceTypeSQLite DataSourceType = "sqlite"
)

// DataSourceConfig 数据源（分片）配置
type DataSourceConfig struct {
	Type     DataSourceType         `json:"type" yaml:"type"`
	Name     string                 `json:"name" yaml:"name"`
	Host     string                 `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int                    `json:"port,omitempty" yaml:"port,omitempty"`
	Username string                 `json:"username,omitempty" yaml:"username,omitempty"`
	Password string                 `json:"password,omitempty" yaml:"password,omitempty"`
	Database string                 `json:"database,omitempty" yaml:"database,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// QueryResult 查询结果（已物化）
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
}

// ExecResult 执行结果
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

// Warning 连接上的警告信息
type Warning struct {
	Level   string
	Code    int
	Message string
}

// MetaData 后端连接元数据
type MetaData struct {
	ProductName    string
	ProductVersion string
	DriverName     string
	DataSource     string
}
