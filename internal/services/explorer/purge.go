package explorer

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Purger 彻底清理一个已软删除的文件：先删对象，再在一个事务里删授权记录和文件行。
// 分享链接记录保留，供所有者列表与审计使用。重复执行是安全的。
type Purger struct {
	tm            TransactionManager
	storage       storage.StorageService
	defaultBucket string
}

func NewPurger(tm TransactionManager, ss storage.StorageService, defaultBucket string) *Purger {
	return &Purger{tm: tm, storage: ss, defaultBucket: defaultBucket}
}

func (p *Purger) Purge(ctx context.Context, task models.DeleteFileTask) error {
	if task.OssKey != "" {
		bucket := task.OssBucket
		if bucket == "" {
			bucket = p.defaultBucket
		}
		if err := p.storage.RemoveObject(ctx, bucket, task.OssKey); err != nil {
			return fmt.Errorf("purge: remove object: %w: %w", xerr.ErrStorageError, err)
		}
	}

	err := p.tm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", task.FileID).Delete(&models.FilePermission{}).Error; err != nil {
			return fmt.Errorf("purge: delete permissions: %w", err)
		}
		if err := tx.Unscoped().Delete(&models.File{}, task.FileID).Error; err != nil {
			return fmt.Errorf("purge: delete file: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", xerr.ErrDatabaseError, err)
	}

	logger.Info("Purge: file removed", zap.Uint64("fileID", task.FileID), zap.String("key", task.OssKey))
	return nil
}
