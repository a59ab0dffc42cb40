package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ShareRepository 分享凭证的持久化，负责下载计数的原子提交
type ShareRepository interface {
	// Create 写入新凭证，token 冲突时返回 xerr.ErrShareTokenConflict
	Create(ctx context.Context, grant *models.ShareGrant) error
	FindByToken(ctx context.Context, token string) (*models.ShareGrant, error)
	FindByID(ctx context.Context, id uint64) (*models.ShareGrant, error)
	ListByOwner(ctx context.Context, ownerID uint64, page, pageSize int) ([]models.ShareGrant, int64, error)
	// CommitRedemption 在同一条语句内重新校验可兑换性并增加下载计数
	CommitRedemption(ctx context.Context, token string, expectedCount int64, now time.Time) error
	// Revoke 撤销凭证，只有所有者或管理员可以操作，重复撤销视为成功
	Revoke(ctx context.Context, id uint64, actorID uint64, isAdmin bool) (*models.ShareGrant, error)
	// DeactivateByFile 文件被删除时让该文件的所有凭证失效，返回受影响的条数
	DeactivateByFile(ctx context.Context, fileID uint64) (int64, error)
}

type shareRepository struct {
	db          *gorm.DB
	timeout     time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
}

var _ ShareRepository = (*shareRepository)(nil)

// NewShareRepository 创建新的shareRepository实例
func NewShareRepository(db *gorm.DB, timeout time.Duration, maxAttempts int, m *metrics.Metrics) ShareRepository {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &shareRepository{db: db, timeout: timeout, maxAttempts: maxAttempts, metrics: m}
}

func (r *shareRepository) Create(ctx context.Context, grant *models.ShareGrant) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(grant).Error; err != nil {
		if isDuplicateKeyError(err) {
			return xerr.ErrShareTokenConflict
		}
		return dbError("创建分享链接失败", err)
	}
	return nil
}

func (r *shareRepository) FindByToken(ctx context.Context, token string) (*models.ShareGrant, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var grant models.ShareGrant
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrShareNotFound
		}
		return nil, dbError("查询分享链接失败", err)
	}
	return &grant, nil
}

func (r *shareRepository) FindByID(ctx context.Context, id uint64) (*models.ShareGrant, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var grant models.ShareGrant
	err := r.db.WithContext(ctx).First(&grant, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrShareNotFound
		}
		return nil, dbError("查询分享链接失败", err)
	}
	return &grant, nil
}

// 查找特定用户的所有分享记录，包含已撤销和已过期的
func (r *shareRepository) ListByOwner(ctx context.Context, ownerID uint64, page, pageSize int) ([]models.ShareGrant, int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()

	var grants []models.ShareGrant
	var total int64
	query := r.db.WithContext(ctx).Model(&models.ShareGrant{}).Where("owner_id = ?", ownerID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError("统计分享总数失败", err)
	}

	err := query.Order("created_at desc").Offset((page - 1) * pageSize).Limit(pageSize).
		Preload("File", func(db *gorm.DB) *gorm.DB { return db.Unscoped() }).
		Find(&grants).Error
	if err != nil {
		return nil, 0, dbError("查询分享列表失败", err)
	}
	return grants, total, nil
}

// CommitRedemption 使用单条条件 UPDATE 完成 "校验 + 计数"。
// 条件里只约束 有效/未过期/未用尽，不比较 expectedCount，
// 这样 N 次额度在并发下恰好被 N 个请求拿到；expectedCount 只用于区分失败原因。
func (r *shareRepository) CommitRedemption(ctx context.Context, token string, expectedCount int64, now time.Time) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		affected, err := r.conditionalIncrement(ctx, token, now)
		if err == nil {
			if affected == 1 {
				return nil
			}
			return r.classifyRejected(ctx, token, expectedCount, now)
		}
		if !isTransientLockError(err) {
			return dbError("提交下载计数失败", err)
		}

		lastErr = err
		r.metrics.RecordCommitRetry()
		logger.Warn("CommitRedemption: transient lock error, retrying",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return dbError("提交下载计数失败", ctx.Err())
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}

	r.metrics.RecordContention()
	logger.Error("CommitRedemption: giving up after retries", zap.Int("attempts", r.maxAttempts), zap.Error(lastErr))
	return xerr.ErrContention
}

func (r *shareRepository) conditionalIncrement(ctx context.Context, token string, now time.Time) (int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	res := r.db.WithContext(ctx).Model(&models.ShareGrant{}).
		Where("token = ? AND is_active = ? AND expires_at > ? AND (max_downloads IS NULL OR download_count < max_downloads)",
			token, true, now).
		Updates(map[string]any{
			"download_count": gorm.Expr("download_count + 1"),
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

// classifyRejected 条件更新没有命中时重新读取记录，判断具体原因
func (r *shareRepository) classifyRejected(ctx context.Context, token string, expectedCount int64, now time.Time) error {
	grant, err := r.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, xerr.ErrShareNotFound) {
			return xerr.NewDenyError(xerr.DenyNotFound)
		}
		return err
	}
	switch {
	case !grant.IsActive:
		return xerr.NewDenyError(xerr.DenyRevoked)
	case !now.Before(grant.ExpiresAt):
		return xerr.NewDenyError(xerr.DenyExpired)
	case grant.QuotaExhausted():
		return xerr.NewDenyError(xerr.DenyQuotaExceeded)
	}
	logger.Warn("CommitRedemption: grant changed between read and commit",
		zap.Uint64("grantID", grant.ID),
		zap.Int64("expectedCount", expectedCount),
		zap.Int64("currentCount", grant.DownloadCount))
	return xerr.ErrShareStale
}

func (r *shareRepository) Revoke(ctx context.Context, id uint64, actorID uint64, isAdmin bool) (*models.ShareGrant, error) {
	grant, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if grant.OwnerID != actorID && !isAdmin {
		return nil, xerr.ErrPermissionDenied
	}
	if !grant.IsActive {
		return grant, nil
	}

	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	// is_active 只会从 true 变为 false
	err = r.db.WithContext(ctx).Model(&models.ShareGrant{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false).Error
	if err != nil {
		return nil, dbError("撤销分享链接失败", err)
	}
	grant.IsActive = false
	return grant, nil
}

func (r *shareRepository) DeactivateByFile(ctx context.Context, fileID uint64) (int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	res := r.db.WithContext(ctx).Model(&models.ShareGrant{}).
		Where("file_id = ? AND is_active = ?", fileID, true).
		Update("is_active", false)
	if res.Error != nil {
		return 0, dbError("批量撤销分享链接失败", res.Error)
	}
	return res.RowsAffected, nil
}
