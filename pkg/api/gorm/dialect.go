package gorm

import (
	"context"
	"database/sql"
	"regexp"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/callbacks"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/migrator"
	"gorm.io/gorm/schema"

	"github.com/kasuganosora/shardconn/pkg/api"
)

// Product 分片的数据库产品，决定 SQL 方言
type Product string

const (
	ProductMySQL      Product = "MySQL"
	ProductPostgreSQL Product = "PostgreSQL"
	ProductSQLite     Product = "SQLite"
)

// Dialector 把逻辑连接封装为 GORM 的数据库驱动
//
// 普通语句按能力矩阵交给第一个分片（配置了路由时为路由选中的第一个），
// 事务和保存点在全部分片上执行。迁移语句同样只到达一个分片。
type Dialector struct {
	Conn *api.Connection
	// Product 为空时在 Initialize 中检查分片一致性并取第一个分片的产品名
	Product Product
	sqlDB   *sql.DB
}

// NewDialector 创建 GORM 驱动
func NewDialector(conn *api.Connection) *Dialector {
	return &Dialector{Conn: conn}
}

// Open 打开逻辑连接上的 GORM DB
func Open(conn *api.Connection, config *gorm.Config) (*gorm.DB, error) {
	if config == nil {
		config = &gorm.Config{}
	}
	return gorm.Open(NewDialector(conn), config)
}

// Name 返回数据库方言名称
func (d *Dialector) Name() string {
	return "shardconn"
}

// Initialize 初始化数据库连接
func (d *Dialector) Initialize(db *gorm.DB) error {
	if d.Product == "" {
		md, err := d.Conn.VerifyHomogeneous(context.Background())
		if err != nil {
			return err
		}
		d.Product = Product(md.ProductName)
	}

	config := &callbacks.Config{}
	switch d.Product {
	case ProductSQLite:
		// SQLite 的 LastInsertId 是批量插入的最后一行
		config.LastInsertIDReversed = true
	case ProductPostgreSQL:
		// lib/pq 不支持 LastInsertId
		config.CreateClauses = []string{"INSERT", "VALUES", "ON CONFLICT", "RETURNING"}
		config.UpdateClauses = []string{"UPDATE", "SET", "FROM", "WHERE", "RETURNING"}
		config.DeleteClauses = []string{"DELETE", "FROM", "WHERE", "RETURNING"}
	}
	callbacks.RegisterDefaultCallbacks(db, config)

	if db.ConnPool == nil {
		d.sqlDB = OpenDB(d.Conn)
		db.ConnPool = d.sqlDB
	}
	return nil
}

// Migrator 提供数据库迁移工具
func (d *Dialector) Migrator(db *gorm.DB) gorm.Migrator {
	return Migrator{
		Migrator: migrator.Migrator{Config: migrator.Config{
			DB:                          db,
			Dialector:                   d,
			CreateIndexAfterCreateTable: true,
		}},
		product: d.Product,
	}
}

// DataTypeOf 确定字段的数据类型
func (d *Dialector) DataTypeOf(field *schema.Field) string {
	switch d.Product {
	case ProductSQLite:
		return sqliteDataType(field)
	case ProductPostgreSQL:
		return postgresDataType(field)
	default:
		return mysqlDataType(field)
	}
}

func sqliteDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "numeric"
	case schema.Int, schema.Uint:
		return "integer"
	case schema.Float:
		return "real"
	case schema.String:
		return "text"
	case schema.Time:
		return "datetime"
	case schema.Bytes:
		return "blob"
	}
	return string(field.DataType)
}

func postgresDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "boolean"
	case schema.Int, schema.Uint:
		if field.AutoIncrement {
			if field.Size <= 32 {
				return "serial"
			}
			return "bigserial"
		}
		if field.Size <= 16 {
			return "smallint"
		} else if field.Size <= 32 {
			return "integer"
		}
		return "bigint"
	case schema.Float:
		if field.Precision > 0 {
			return "numeric(" + strconv.Itoa(field.Precision) + "," + strconv.Itoa(field.Scale) + ")"
		}
		return "double precision"
	case schema.String:
		if field.Size > 0 {
			return "varchar(" + strconv.Itoa(field.Size) + ")"
		}
		return "text"
	case schema.Time:
		return "timestamptz"
	case schema.Bytes:
		return "bytea"
	}
	return string(field.DataType)
}

func mysqlDataType(field *schema.Field) string {
	switch field.DataType {
	case schema.Bool:
		return "boolean"
	case schema.Int, schema.Uint:
		sqlType := "bigint"
		if field.Size <= 8 {
			sqlType = "tinyint"
		} else if field.Size <= 16 {
			sqlType = "smallint"
		} else if field.Size <= 32 {
			sqlType = "int"
		}
		if field.DataType == schema.Uint {
			sqlType += " unsigned"
		}
		if field.AutoIncrement {
			sqlType += " AUTO_INCREMENT"
		}
		return sqlType
	case schema.Float:
		if field.Size <= 32 {
			return "float"
		}
		return "double"
	case schema.String:
		size := field.Size
		if size == 0 {
			if field.PrimaryKey || field.HasDefaultValue {
				size = 191
			} else {
				return "longtext"
			}
		}
		return "varchar(" + strconv.Itoa(size) + ")"
	case schema.Time:
		return "datetime(3)"
	case schema.Bytes:
		return "longblob"
	}
	return string(field.DataType)
}

// DefaultValueOf 提供字段的默认值
// SQLite 的 VALUES 不支持 DEFAULT
func (d *Dialector) DefaultValueOf(field *schema.Field) clause.Expression {
	if d.Product == ProductSQLite {
		return clause.Expr{SQL: "NULL"}
	}
	return clause.Expr{SQL: "DEFAULT"}
}

// BindVarTo 处理 SQL 语句中的变量绑定
func (d *Dialector) BindVarTo(writer clause.Writer, stmt *gorm.Statement, v interface{}) {
	if d.Product == ProductPostgreSQL {
		writer.WriteByte('$')
		writer.WriteString(strconv.Itoa(len(stmt.Vars)))
		return
	}
	writer.WriteByte('?')
}

// QuoteTo 管理标识符的引号。MySQL 和 SQLite 都接受反引号。
func (d *Dialector) QuoteTo(writer clause.Writer, str string) {
	quote := byte('`')
	if d.Product == ProductPostgreSQL {
		quote = '"'
	}
	writer.WriteByte(quote)
	for i := 0; i < len(str); i++ {
		switch str[i] {
		case '.':
			writer.WriteByte(quote)
			writer.WriteByte('.')
			writer.WriteByte(quote)
		case quote:
			writer.WriteByte(quote)
			writer.WriteByte(quote)
		default:
			writer.WriteByte(str[i])
		}
	}
	writer.WriteByte(quote)
}

// Explain 格式化带有变量的 SQL 语句
func (d *Dialector) Explain(sql string, vars ...interface{}) string {
	if d.Product == ProductPostgreSQL {
		return logger.ExplainSQL(sql, numberedVar, `'`, vars...)
	}
	return logger.ExplainSQL(sql, nil, `'`, vars...)
}

var numberedVar = regexp.MustCompile(`\$(\d+)`)

// SavePoint 在全部分片上创建保存点（嵌套事务）
func (d *Dialector) SavePoint(tx *gorm.DB, name string) error {
	_, err := d.Conn.SetSavepoint(tx.Statement.Context, name)
	return err
}

// RollbackTo 在全部分片上回滚到保存点
func (d *Dialector) RollbackTo(tx *gorm.DB, name string) error {
	return d.Conn.RollbackToSavepoint(tx.Statement.Context, name)
}

// Close 关闭 Initialize 创建的 *sql.DB，不关闭逻辑连接
func (d *Dialector) Close() error {
	if d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

var _ gorm.SavePointerDialectorInterface = (*Dialector)(nil)
