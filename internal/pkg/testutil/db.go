// Package testutil 测试公用的辅助函数
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/setup"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewTestDB 在临时目录创建一个完成迁移的 SQLite 数据库
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := setup.OpenDatabase(&config.DatabaseConfig{
		Type:         "sqlite",
		DSN:          filepath.Join(t.TempDir(), "filevault.db"),
		QueryTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, setup.AutoMigrate(db))
	t.Cleanup(func() { setup.CloseDatabase(db) })
	return db
}
