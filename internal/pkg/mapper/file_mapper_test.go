package mapper

import (
	"fmt"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 模拟 Redis 把所有值存成字符串
func stringify(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func TestFileHashRoundTrip(t *testing.T) {
	mime := "text/plain"
	key := "files/1/abc/a.txt"
	bucket := "vault"
	created := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	file := &models.File{
		ID:        42,
		UUID:      "abc",
		UserID:    1,
		FileName:  "a.txt",
		Size:      1234567890123,
		MimeType:  &mime,
		OssBucket: &bucket,
		OssKey:    &key,
		Status:    models.StatusNormal,
		CreatedAt: created,
		UpdatedAt: created,
	}

	hash, err := FileToMap(file)
	require.NoError(t, err)
	assert.Equal(t, "", hash["deleted_at"])

	got, err := MapToFile(stringify(hash))
	require.NoError(t, err)
	assert.Equal(t, file.ID, got.ID)
	assert.Equal(t, file.Size, got.Size)
	assert.Equal(t, "a.txt", got.FileName)
	require.NotNil(t, got.OssKey)
	assert.Equal(t, key, *got.OssKey)
	assert.True(t, created.Equal(got.CreatedAt))
	assert.False(t, got.DeletedAt.Valid)
	assert.True(t, got.Available())
}

func TestNilPointersDecodeAsNil(t *testing.T) {
	hash, err := FileToMap(&models.File{ID: 1, FileName: "x"})
	require.NoError(t, err)

	got, err := MapToFile(stringify(hash))
	require.NoError(t, err)
	assert.Nil(t, got.MimeType)
	assert.Nil(t, got.OssKey)
}
