package service

import (
	"path/filepath"
	"testing"

	"github.com/dushixiang/osprey/internal/models"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB 创建临时 sqlite 数据库并完成迁移
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "osprey_test.db") + "?_pragma=busy_timeout(10000)"
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	err = db.AutoMigrate(
		&models.Organization{},
		&models.Device{},
		&models.Metric{},
		&models.AlertSettings{},
		&models.Check{},
		&models.ResourceLease{},
		&models.AlertRecord{},
	)
	if err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}
	return db
}

func newTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zap.NewNop()
}
