package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"go.uber.org/zap"
)

type UserService interface {
	GetUserProfile(ctx context.Context, userID uint64) (*models.User, error)
	ListUsers(ctx context.Context, page, pageSize int) ([]models.User, int64, error)
	// AssignRole 只有管理员可以调用，结果写入审计日志
	AssignRole(ctx context.Context, actor *models.Principal, userID uint64, role string) (*models.User, error)
}

type userService struct {
	userRepo repositories.UserRepository
	recorder audit.Recorder
}

var _ UserService = (*userService)(nil)

func NewUserService(userRepo repositories.UserRepository, recorder audit.Recorder) UserService {
	return &userService{userRepo: userRepo, recorder: recorder}
}

func (s *userService) GetUserProfile(ctx context.Context, userID uint64) (*models.User, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		logger.Warn("GetUserProfile: Error retrieving user",
			zap.Uint64("userID", userID),
			zap.Error(err))
		return nil, err
	}
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, page, pageSize int) ([]models.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.userRepo.ListUsers(ctx, page, pageSize)
}

func (s *userService) AssignRole(ctx context.Context, actor *models.Principal, userID uint64, role string) (*models.User, error) {
	event := audit.Event{
		Actor:        actor.Actor(),
		Action:       models.AuditActionRoleAssign,
		ResourceType: "user",
		ResourceID:   strconv.FormatUint(userID, 10),
		Context:      map[string]any{"role": role},
	}
	if !actor.IsAdmin() {
		event.Outcome, event.Reason = models.AuditOutcomeDenied, "not_admin"
		s.recorder.Record(ctx, event)
		return nil, xerr.ErrPermissionDenied
	}
	if !models.ValidRole(role) {
		verr := &xerr.ValidationError{}
		verr.Add(fmt.Sprintf("role must be one of %s, %s, %s", models.RoleAdmin, models.RoleUser, models.RoleViewer))
		return nil, verr
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	event.Context["previous_role"] = user.Role
	if user.Role == role {
		event.Outcome = models.AuditOutcomeSuccess
		s.recorder.Record(ctx, event)
		return user, nil
	}
	if err := s.userRepo.UpdateRole(ctx, userID, role); err != nil {
		event.Outcome, event.Reason = models.AuditOutcomeFailure, "database_error"
		s.recorder.Record(ctx, event)
		return nil, err
	}
	user.Role = role

	event.Outcome = models.AuditOutcomeSuccess
	s.recorder.Record(ctx, event)
	logger.Info("AssignRole success", zap.Uint64("userID", userID), zap.String("role", role), zap.String("actor", actor.Actor()))
	return user, nil
}
