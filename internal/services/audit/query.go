package audit

import (
	"context"
	"fmt"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
)

// QueryService 审计日志查询。List 与 FileHistory 仅管理员可用（由路由层控制），
// ListMine 任何登录用户可用，只能看到自己作为操作者的事件
type QueryService interface {
	List(ctx context.Context, filter repositories.AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error)
	ListMine(ctx context.Context, p *models.Principal, filter repositories.AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error)
	FileHistory(ctx context.Context, fileID uint64, page, pageSize int) ([]models.AuditLog, int64, error)
}

type queryService struct {
	repo repositories.AuditRepository
}

func NewQueryService(repo repositories.AuditRepository) QueryService {
	return &queryService{repo: repo}
}

func (s *queryService) List(ctx context.Context, filter repositories.AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	logs, total, err := s.repo.List(ctx, filter, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}
	return logs, total, nil
}

func (s *queryService) ListMine(ctx context.Context, p *models.Principal, filter repositories.AuditFilter, page, pageSize int) ([]models.AuditLog, int64, error) {
	if p == nil {
		return nil, 0, xerr.ErrUnauthorized
	}
	filter.Actor = p.Actor()
	return s.List(ctx, filter, page, pageSize)
}

func (s *queryService) FileHistory(ctx context.Context, fileID uint64, page, pageSize int) ([]models.AuditLog, int64, error) {
	if fileID == 0 {
		return nil, 0, xerr.ErrInvalidParams
	}
	return s.List(ctx, repositories.AuditFilter{FileID: fileID}, page, pageSize)
}
