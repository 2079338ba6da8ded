// Package testutil 为各包测试准备内存数据库与常用数据。
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"airspace/internal/db"
	"airspace/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq atomic.Int64

// NewDB 打开一个独立的内存 SQLite 并完成迁移。
// 只允许一个连接，保证同一测试内所有事务看到同一个库。
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:airspace_test_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)", seq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

// CreateUser 直接写入一个用户及其 profile。
func CreateUser(t *testing.T, gdb *gorm.DB, username string) models.User {
	t.Helper()
	u := models.User{
		Username: username,
		Profile:  models.Profile{DisplayName: username, Theme: "soft-glass", SubscriptionTier: "Free", City: "Unknown"},
	}
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

// CreateStaff 创建一个管理员用户。
func CreateStaff(t *testing.T, gdb *gorm.DB, username string) models.User {
	t.Helper()
	u := CreateUser(t, gdb, username)
	require.NoError(t, gdb.Model(&u).Update("is_staff", true).Error)
	u.IsStaff = true
	return u
}

// Profile 读取用户当前 profile。
func Profile(t *testing.T, gdb *gorm.DB, userID uint) models.Profile {
	t.Helper()
	var p models.Profile
	require.NoError(t, gdb.Where("user_id = ?", userID).First(&p).Error)
	return p
}
