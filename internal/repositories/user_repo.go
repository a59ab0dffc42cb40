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

type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uint64) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) ([]models.User, int64, error)
	UpdateRole(ctx context.Context, id uint64, role string) error
}

type userRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ UserRepository = (*userRepository)(nil)

// NewUserRepository 创建一个新的 UserRepository 实例
func NewUserRepository(db *gorm.DB, timeout time.Duration) UserRepository {
	return &userRepository{db: db, timeout: timeout}
}

func (r *userRepository) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKeyError(err) {
			return xerr.ErrUserAlreadyExists
		}
		logger.Error("Error creating user", zap.Error(err))
		return dbError("创建用户失败", err)
	}
	return nil
}

func (r *userRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var user models.User
	err := r.db.WithContext(ctx).Where(query, arg).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, xerr.ErrUserNotFound
		}
		logger.Error("Error getting user", zap.String("query", query), zap.Error(err))
		return nil, dbError("查询用户失败", err)
	}
	return &user, nil
}

func (r *userRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *userRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *userRepository) GetUserByID(ctx context.Context, id uint64) (*models.User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *userRepository) ListUsers(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	var users []models.User
	var total int64
	query := r.db.WithContext(ctx).Model(&models.User{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError("统计用户总数失败", err)
	}
	if err := query.Order("id ASC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&users).Error; err != nil {
		return nil, 0, dbError("查询用户列表失败", err)
	}
	return users, total, nil
}

func (r *userRepository) UpdateRole(ctx context.Context, id uint64, role string) error {
	ctx, cancel := queryContext(ctx, r.timeout)
	defer cancel()
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return dbError("更新用户角色失败", res.Error)
	}
	if res.RowsAffected == 0 {
		return xerr.ErrUserNotFound
	}
	return nil
}
