package repository

import (
	"os"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"jensengpt/internal/model"
)

// TestGormStoreSQLite 每个用例使用一个独立的内存 SQLite 库
func TestGormStoreSQLite(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		require.NoError(t, err)
		sqlDB, err := db.DB()
		require.NoError(t, err)
		// 内存库按连接隔离，只保留一个连接
		sqlDB.SetMaxOpenConns(1)
		t.Cleanup(func() { sqlDB.Close() })

		require.NoError(t, AutoMigrate(db))
		return NewGormStore(db, true)
	})
}

// TestGormStore 需要一个可写的 MySQL 实例
// 例: JENSENGPT_TEST_MYSQL_DSN="root:root@tcp(127.0.0.1:3306)/jensengpt_test?parseTime=True"
func TestGormStore(t *testing.T) {
	dsn := os.Getenv("JENSENGPT_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("JENSENGPT_TEST_MYSQL_DSN not set")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	runStoreContract(t, func(t *testing.T) Store {
		for _, table := range []interface{}{
			&model.ReasoningExplanation{}, &model.Idea{}, &model.Thought{},
			&model.Bookmark{}, &model.Message{}, &model.Branch{}, &model.Conversation{},
		} {
			require.NoError(t, db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(table).Error)
		}
		return NewGormStore(db, true)
	})
}
