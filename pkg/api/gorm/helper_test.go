package gorm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kasuganosora/shardconn/pkg/api"
	"github.com/kasuganosora/shardconn/pkg/config"
	"github.com/kasuganosora/shardconn/pkg/resource/domain"
)

type User struct {
	ID   uint   `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:64;index"`
	Age  int
}

// openShards 打开 n 个 SQLite 内存分片组成的逻辑库 app
func openShards(t *testing.T, n int, tables map[string][]string) (*api.DB, *api.Connection, *gorm.DB) {
	t.Helper()

	cfg := config.DefaultConfig()
	dbCfg := config.DatabaseConfig{Name: "app", Tables: tables}
	for i := 0; i < n; i++ {
		dbCfg.Shards = append(dbCfg.Shards, domain.DataSourceConfig{
			Type: domain.DataSourceTypeSQLite,
			Name: fmt.Sprintf("shard_%d", i),
		})
	}
	cfg.Databases = []config.DatabaseConfig{dbCfg}

	db, err := api.Open(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	conn, err := db.Connect("app")
	require.NoError(t, err)

	gormDB, err := Open(conn, &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db, conn, gormDB
}

// countOn 直接在分片上统计行数
func countOn(t *testing.T, db *api.DB, shard, table string) int64 {
	t.Helper()
	ds, err := db.GetDSManager().Get(shard)
	require.NoError(t, err)
	res, err := ds.Query(context.Background(), "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	return res.Rows[0][0].(int64)
}

// createOnAll 在每个分片上建表
func createOnAll(t *testing.T, db *api.DB, ddl string) {
	t.Helper()
	shards, err := db.GetDSManager().Shards("app")
	require.NoError(t, err)
	for _, shard := range shards {
		ds, err := db.GetDSManager().Get(shard)
		require.NoError(t, err)
		_, err = ds.Exec(context.Background(), ddl)
		require.NoError(t, err)
	}
}
