// Package permission 判断已登录用户能否对文件执行某个操作。
// 与分享链接无关：这里处理的是所有者、持久化授权记录 (ACL) 与管理员越权。
package permission

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"go.uber.org/zap"
)

// Action 对文件的操作
type Action string

const (
	ActionRead     Action = "read"     // 查看元数据
	ActionDownload Action = "download" // 下载内容
	ActionShare    Action = "share"    // 创建分享链接
	ActionManage   Action = "manage"   // 删除、管理授权、撤销他人分享
)

// 判定依据
const (
	ReasonOwner           = "owner"
	ReasonACL             = "acl"
	ReasonAdminOverride   = "admin_override"
	ReasonUnauthenticated = "unauthenticated"
	ReasonRoleForbidden   = "role_forbidden"
	ReasonNoPermission    = "no_permission"
)

// Decision 权限判定结果
type Decision struct {
	Allowed       bool
	AdminOverride bool // 仅因管理员身份放行，需要审计
	Reason        string
}

// Decide 纯函数：根据身份、文件和授权记录判断是否允许。
// perm 为 nil 表示该用户对文件没有授权记录。
func Decide(p *models.Principal, file *models.File, perm *models.FilePermission, action Action) Decision {
	if p == nil {
		return Decision{Reason: ReasonUnauthenticated}
	}
	// 只读角色不能对外分享，包括自己名下的文件
	if action == ActionShare && p.Role == models.RoleViewer {
		return Decision{Reason: ReasonRoleForbidden}
	}
	if file != nil && file.UserID == p.UserID {
		return Decision{Allowed: true, Reason: ReasonOwner}
	}
	if file != nil && perm != nil && perm.FileID == file.ID && perm.PrincipalID == p.UserID && aclAllows(perm, action) {
		return Decision{Allowed: true, Reason: ReasonACL}
	}
	if p.IsAdmin() {
		return Decision{Allowed: true, AdminOverride: true, Reason: ReasonAdminOverride}
	}
	return Decision{Reason: ReasonNoPermission}
}

func aclAllows(perm *models.FilePermission, action Action) bool {
	switch action {
	case ActionRead:
		return true
	case ActionDownload:
		return perm.CanDownload
	case ActionShare:
		return perm.CanShare
	default:
		return false
	}
}

// Resolver 加载文件与授权记录后调用 Decide
type Resolver struct {
	files    repositories.FileRepository
	perms    repositories.PermissionRepository
	recorder audit.Recorder
}

func NewResolver(files repositories.FileRepository, perms repositories.PermissionRepository, recorder audit.Recorder) *Resolver {
	return &Resolver{files: files, perms: perms, recorder: recorder}
}

// Authorize 返回文件与判定结果。文件不存在时返回 xerr.ErrFileNotFound，
// 不允许时返回 xerr.ErrPermissionDenied。
func (r *Resolver) Authorize(ctx context.Context, p *models.Principal, fileID uint64, action Action) (*models.File, Decision, error) {
	file, err := r.files.FindByID(ctx, fileID)
	if err != nil {
		return nil, Decision{}, err
	}

	var perm *models.FilePermission
	if p != nil && file.UserID != p.UserID {
		perm, err = r.perms.Find(ctx, fileID, p.UserID)
		if err != nil {
			return nil, Decision{}, fmt.Errorf("permission resolver: load acl: %w", err)
		}
	}

	decision := Decide(p, file, perm, action)
	if !decision.Allowed {
		logger.Debug("Authorize: denied",
			zap.String("actor", p.Actor()),
			zap.Uint64("fileID", fileID),
			zap.String("action", string(action)),
			zap.String("reason", decision.Reason))
		return file, decision, xerr.ErrPermissionDenied
	}
	if decision.AdminOverride {
		r.recorder.Record(ctx, audit.Event{
			Actor:        p.Actor(),
			Action:       models.AuditActionAdminOverride,
			ResourceType: "file",
			ResourceID:   strconv.FormatUint(fileID, 10),
			FileID:       fileID,
			Outcome:      models.AuditOutcomeSuccess,
			Context:      map[string]any{"file_action": string(action), "owner_id": file.UserID},
		})
	}
	return file, decision, nil
}

// CanAccess 只关心是否允许。文件不存在视为不允许
func (r *Resolver) CanAccess(ctx context.Context, p *models.Principal, fileID uint64, action Action) (bool, error) {
	_, _, err := r.Authorize(ctx, p, fileID, action)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, xerr.ErrPermissionDenied), errors.Is(err, xerr.ErrFileNotFound):
		return false, nil
	default:
		return false, err
	}
}
