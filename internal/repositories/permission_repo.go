package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PermissionRepository 文件授权记录 (ACL) 的访问接口
type PermissionRepository interface {
	// Upsert 授权记录已存在时更新能力位与授权人，否则新建
	Upsert(ctx context.Context, perm *models.FilePermission) error
	// Find 返回 (文件, 用户) 的授权记录，不存在时返回 nil, nil
	Find(ctx context.Context, fileID, principalID uint64) (*models.FilePermission, error)
	ListByFile(ctx context.Context, fileID uint64) ([]models.FilePermission, error)
	ListByPrincipal(ctx context.Context, principalID uint64) ([]models.FilePermission, error)
	Delete(ctx context.Context, fileID, principalID uint64) error
}

type permissionRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ PermissionRepository = (*permissionRepository)(nil)

func NewPermissionRepository(db *gorm.DB, timeout time.Duration) PermissionRepository {
	return &permissionRepository{db: db, timeout: timeout}
}

func (r *permissionRepository) Upsert(ctx context.Context, perm *models.FilePermission) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "principal_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"granted_by", "can_download", "can_share", "revocable", "granted_at"}),
	}).Create(perm).Error
	if err != nil {
		return dbError("写入授权记录失败", err)
	}
	// 冲突更新时部分驱动不回填主键，重新读取一次
	saved, err := r.Find(ctx, perm.FileID, perm.PrincipalID)
	if err != nil {
		return err
	}
	if saved != nil {
		*perm = *saved
	}
	return nil
}

func (r *permissionRepository) Find(ctx context.Context, fileID, principalID uint64) (*models.FilePermission, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var perm models.FilePermission
	err := r.db.WithContext(ctx).Where("file_id = ? AND principal_id = ?", fileID, principalID).First(&perm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError("查询授权记录失败", err)
	}
	return &perm, nil
}

func (r *permissionRepository) ListByFile(ctx context.Context, fileID uint64) ([]models.FilePermission, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var perms []models.FilePermission
	if err := r.db.WithContext(ctx).Where("file_id = ?", fileID).Order("granted_at ASC").Find(&perms).Error; err != nil {
		return nil, dbError("查询授权列表失败", err)
	}
	return perms, nil
}

func (r *permissionRepository) ListByPrincipal(ctx context.Context, principalID uint64) ([]models.FilePermission, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var perms []models.FilePermission
	err := r.db.WithContext(ctx).Where("principal_id = ?", principalID).
		Preload("File").Order("granted_at DESC").Find(&perms).Error
	if err != nil {
		return nil, dbError("查询授权列表失败", err)
	}
	return perms, nil
}

func (r *permissionRepository) Delete(ctx context.Context, fileID, principalID uint64) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	res := r.db.WithContext(ctx).Where("file_id = ? AND principal_id = ?", fileID, principalID).Delete(&models.FilePermission{})
	if res.Error != nil {
		return dbError("删除授权记录失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return xerr.ErrPermissionNotFound
	}
	return nil
}
