package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type AuthService interface {
	RegisterUser(ctx context.Context, username, password, email string) (*models.User, error)
	// LoginUser 用户名或邮箱登录，返回访问令牌
	LoginUser(ctx context.Context, identifier, password string) (*LoginResult, error)
	// EnsureAdmin 创建或提升一个管理员账号，用于初始化部署
	EnsureAdmin(ctx context.Context, username, password, email string) (*models.User, error)
}

// LoginResult 登录成功返回的令牌
type LoginResult struct {
	Token     string
	ExpiresIn time.Duration
	User      *models.User
}

type authService struct {
	userRepo  repositories.UserRepository
	cfg       *config.Config
	dummyHash []byte
}

// 确保authService实现了AuthService的方法
var _ AuthService = (*authService)(nil)

func NewAuthService(userRepo repositories.UserRepository, cfg *config.Config) AuthService {
	// 用户不存在时也做一次 bcrypt 比较，登录耗时不暴露账号是否存在
	dummy, _ := bcrypt.GenerateFromPassword([]byte("filevault-login-placeholder"), bcrypt.DefaultCost)
	return &authService{
		userRepo:  userRepo,
		cfg:       cfg,
		dummyHash: dummy,
	}
}

func (s *authService) RegisterUser(ctx context.Context, username, password, email string) (*models.User, error) {
	return s.createUser(ctx, username, password, email, models.RoleUser)
}

func (s *authService) createUser(ctx context.Context, username, password, email, role string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	//检查用户名是否存在
	if _, err := s.userRepo.GetUserByUsername(ctx, username); err == nil {
		return nil, xerr.ErrUserAlreadyExists
	} else if !errors.Is(err, xerr.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check username existence: %w", err)
	}

	//检查邮箱是否存在
	if _, err := s.userRepo.GetUserByEmail(ctx, email); err == nil {
		return nil, xerr.ErrEmailAlreadyExists
	} else if !errors.Is(err, xerr.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email existence: %w", err)
	}

	//哈希密码
	hashedPassword, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hashedPassword,
		Email:        email,
		Role:         role,
		Status:       1,
	}
	if err := s.userRepo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user in database: %w", err)
	}

	logger.Info("User registered successfully", zap.String("username", user.Username), zap.String("role", role))
	return user, nil
}

func (s *authService) LoginUser(ctx context.Context, identifier, password string) (*LoginResult, error) {
	// 尝试通过用户名查找用户，找不到再按邮箱查找
	user, err := s.userRepo.GetUserByUsername(ctx, identifier)
	if errors.Is(err, xerr.ErrUserNotFound) {
		user, err = s.userRepo.GetUserByEmail(ctx, strings.ToLower(identifier))
	}
	if err != nil {
		if errors.Is(err, xerr.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			return nil, xerr.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	//验证密码
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		logger.Warn("LoginUser: invalid credentials", zap.Uint64("userID", user.ID))
		return nil, xerr.ErrInvalidCredentials
	}
	if user.Status != 1 {
		return nil, xerr.ErrForbidden
	}

	tokenString, err := utils.GenerateToken(
		user.ID,
		user.Username,
		user.Email,
		user.Role,
		s.cfg.JWT.SecretKey,
		s.cfg.JWT.Issuer,
		s.cfg.JWT.ExpiresIn,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &LoginResult{Token: tokenString, ExpiresIn: s.cfg.JWT.ExpiresIn, User: user}, nil
}

func (s *authService) EnsureAdmin(ctx context.Context, username, password, email string) (*models.User, error) {
	user, err := s.userRepo.GetUserByUsername(ctx, username)
	switch {
	case err == nil:
		if user.Role != models.RoleAdmin {
			if err := s.userRepo.UpdateRole(ctx, user.ID, models.RoleAdmin); err != nil {
				return nil, err
			}
			user.Role = models.RoleAdmin
			logger.Info("EnsureAdmin: promoted existing user", zap.String("username", username))
		}
		return user, nil
	case errors.Is(err, xerr.ErrUserNotFound):
		return s.createUser(ctx, username, password, email, models.RoleAdmin)
	default:
		return nil, err
	}
}
