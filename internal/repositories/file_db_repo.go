package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// dbFileRepository 直接读写数据库的 FileRepository 实现
type dbFileRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ FileRepository = (*dbFileRepository)(nil)

// NewDBFileRepository creates a new DBFileRepository instance.
func NewDBFileRepository(db *gorm.DB, timeout time.Duration) FileRepository {
	return &dbFileRepository{db: db, timeout: timeout}
}

func (r *dbFileRepository) Create(ctx context.Context, file *models.File) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		logger.Error("Create: Failed to create file in DB", zap.Error(err), zap.Uint64("userID", file.UserID), zap.String("fileName", file.FileName))
		return dbError("failed to create file", err)
	}
	return nil
}

func (r *dbFileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var file models.File
	err := r.db.WithContext(ctx).First(&file, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrFileNotFound
		}
		return nil, dbError("failed to find file", err)
	}
	return &file, nil
}

func (r *dbFileRepository) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]models.File, int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()

	var files []models.File
	var total int64
	query := r.db.WithContext(ctx).Model(&models.File{}).Where("user_id = ? AND status = ?", userID, models.StatusNormal)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError("统计文件总数失败", err)
	}
	err := query.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&files).Error
	if err != nil {
		logger.Error("Error finding files from DB", zap.Uint64("userID", userID), zap.Error(err))
		return nil, 0, dbError("查询文件列表失败", err)
	}
	return files, total, nil
}

func (r *dbFileRepository) SoftDelete(ctx context.Context, id uint64) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&models.File{}).Where("id = ?", id).
		Update("status", models.StatusDeleting).Error
	if err != nil {
		return dbError("failed to mark file deleting", err)
	}
	if err := r.db.WithContext(ctx).Delete(&models.File{}, id).Error; err != nil {
		return dbError("failed to soft delete file", err)
	}
	return nil
}
