package repositories

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"gorm.io/gorm"
)

// AuditFilter 审计日志查询条件，零值字段不参与过滤
type AuditFilter struct {
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	FileID       uint64 // 按文件聚合：文件本身、授权和分享事件
	Outcome      string
	Since        *time.Time
	Until        *time.Time
}

// AuditRepository 审计日志只追加，不提供修改和删除
type AuditRepository interface {
	// Append 写入审计事件，EventID 重复时忽略（Stream 重投递）
	Append(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error)
}

type auditRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ AuditRepository = (*auditRepository)(nil)

func NewAuditRepository(db *gorm.DB, timeout time.Duration) AuditRepository {
	return &auditRepository{db: db, timeout: timeout}
}

func (r *auditRepository) Append(ctx context.Context, entry *models.AuditLog) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil
		}
		return dbError("写入审计日志失败", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()

	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.ResourceType != "" {
		query = query.Where("resource_type = ?", filter.ResourceType)
	}
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.FileID != 0 {
		query = query.Where("file_id = ?", filter.FileID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.Since != nil {
		query = query.Where("timestamp >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("timestamp < ?", *filter.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError("统计审计日志失败", err)
	}
	var logs []models.AuditLog
	if err := query.Order("timestamp DESC, id DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&logs).Error; err != nil {
		return nil, 0, dbError("查询审计日志失败", err)
	}
	return logs, total, nil
}
