package gorm

import (
	"gorm.io/gorm"
	"gorm.io/gorm/migrator"
)

// Migrator 在 GORM 默认迁移器上补充各产品的元数据查询
// 迁移语句和普通语句一样只到达一个分片
type Migrator struct {
	migrator.Migrator
	product Product
}

// CurrentDatabase 当前库名
func (m Migrator) CurrentDatabase() (name string) {
	switch m.product {
	case ProductSQLite:
		return "main"
	case ProductPostgreSQL:
		m.DB.Raw("SELECT CURRENT_DATABASE()").Row().Scan(&name)
		return name
	default:
		return m.Migrator.CurrentDatabase()
	}
}

// HasTable 检查表是否存在
func (m Migrator) HasTable(value interface{}) bool {
	var count int64
	err := m.RunWithValue(value, func(stmt *gorm.Statement) error {
		switch m.product {
		case ProductSQLite:
			return m.DB.Raw("SELECT count(*) FROM sqlite_master WHERE type = ? AND name = ?", "table", stmt.Table).Row().Scan(&count)
		case ProductPostgreSQL:
			return m.DB.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_name = ? AND table_type = ?",
				stmt.Table, "BASE TABLE").Row().Scan(&count)
		default:
			return m.DB.Raw("SELECT count(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ? AND table_type = ?",
				m.CurrentDatabase(), stmt.Table, "BASE TABLE").Row().Scan(&count)
		}
	})
	return err == nil && count > 0
}

// GetTables 获取所有表
func (m Migrator) GetTables() (tableList []string, err error) {
	switch m.product {
	case ProductSQLite:
		err = m.DB.Raw("SELECT name FROM sqlite_master WHERE type = ? AND name NOT LIKE ?", "table", "sqlite_%").Scan(&tableList).Error
	case ProductPostgreSQL:
		err = m.DB.Raw("SELECT table_name FROM information_schema.tables WHERE table_schema = CURRENT_SCHEMA() AND table_type = ?", "BASE TABLE").Scan(&tableList).Error
	default:
		return m.Migrator.GetTables()
	}
	return tableList, err
}

// HasIndex 检查索引是否存在
func (m Migrator) HasIndex(value interface{}, name string) bool {
	if m.product != ProductSQLite {
		return m.Migrator.HasIndex(value, name)
	}
	var count int64
	err := m.RunWithValue(value, func(stmt *gorm.Statement) error {
		if stmt.Schema != nil {
			if idx := stmt.Schema.LookIndex(name); idx != nil {
				name = idx.Name
			}
		}
		return m.DB.Raw("SELECT count(*) FROM sqlite_master WHERE type = ? AND tbl_name = ? AND name = ?", "index", stmt.Table, name).Row().Scan(&count)
	})
	return err == nil && count > 0
}

// DropIndex 删除索引，SQLite 不支持 ON 子句
func (m Migrator) DropIndex(value interface{}, name string) error {
	if m.product != ProductSQLite {
		return m.Migrator.DropIndex(value, name)
	}
	return m.RunWithValue(value, func(stmt *gorm.Statement) error {
		if stmt.Schema != nil {
			if idx := stmt.Schema.LookIndex(name); idx != nil {
				name = idx.Name
			}
		}
		return m.DB.Exec("DROP INDEX ?", gorm.Expr(m.DB.Statement.Quote(name))).Error
	})
}
