package repositories

import (
	"context"

	"github.com/3Eeeecho/go-filevault/internal/models"
)

// FileRepository 文件元数据访问接口
// FindByID 只返回未被软删除的文件，找不到时返回 xerr.ErrFileNotFound
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
	FindByID(ctx context.Context, id uint64) (*models.File, error)
	ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]models.File, int64, error)
	SoftDelete(ctx context.Context, id uint64) error
}
