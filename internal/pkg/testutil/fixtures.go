package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var seq atomic.Int64

// SeedUser 插入一个指定角色的用户
func SeedUser(t testing.TB, db *gorm.DB, role string) *models.User {
	t.Helper()
	n := seq.Add(1)
	user := &models.User{
		Username:     fmt.Sprintf("user%d", n),
		Email:        fmt.Sprintf("user%d@example.com", n),
		PasswordHash: "x",
		Role:         role,
		Status:       1,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// SeedFile 插入一个正常状态的文件记录，对象键按 files/<user>/<uuid>/<name> 生成
func SeedFile(t testing.TB, db *gorm.DB, ownerID uint64, name string) *models.File {
	t.Helper()
	id := uuid.NewString()
	bucket := "filevault"
	key := fmt.Sprintf("files/%d/%s/%s", ownerID, id, name)
	mime := "text/plain"
	file := &models.File{
		UUID:      id,
		UserID:    ownerID,
		FileName:  name,
		Size:      5,
		MimeType:  &mime,
		OssBucket: &bucket,
		OssKey:    &key,
		Status:    models.StatusNormal,
	}
	require.NoError(t, db.Create(file).Error)
	return file
}
