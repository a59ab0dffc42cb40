package explorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mq"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/3Eeeecho/go-filevault/internal/services/permission"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FileService interface {
	// 文件上传
	Upload(ctx context.Context, p *models.Principal, in UploadInput) (*models.File, error)

	// 文件查询
	Get(ctx context.Context, p *models.Principal, fileID uint64) (*models.File, error)
	ListMine(ctx context.Context, p *models.Principal, page, pageSize int) ([]models.File, int64, error)
	ListSharedWithMe(ctx context.Context, p *models.Principal) ([]SharedFile, error)

	// 文件下载，调用方负责关闭 FileContent.Reader
	Download(ctx context.Context, p *models.Principal, fileID uint64) (*FileContent, error)

	// 文件删除：软删除后异步清理对象存储
	Delete(ctx context.Context, p *models.Principal, fileID uint64) error

	// 授权管理
	GrantPermission(ctx context.Context, p *models.Principal, fileID uint64, req GrantRequest) (*models.FilePermission, error)
	RevokePermission(ctx context.Context, p *models.Principal, fileID, principalID uint64) error
	ListPermissions(ctx context.Context, p *models.Principal, fileID uint64) ([]models.FilePermission, error)
}

// UploadInput 上传的文件内容与元数据
type UploadInput struct {
	FileName string
	MimeType string
	Size     int64
	Reader   io.Reader
}

// FileContent 下载时返回的文件流
type FileContent struct {
	File     *models.File
	MimeType string
	Size     int64
	Reader   io.ReadCloser
}

// SharedFile 通过授权记录可访问的他人文件
type SharedFile struct {
	File        models.File `json:"file"`
	CanDownload bool        `json:"can_download"`
	CanShare    bool        `json:"can_share"`
	GrantedBy   uint64      `json:"granted_by"`
	GrantedAt   time.Time   `json:"granted_at"`
}

// GrantRequest 授权对象可以用用户ID或邮箱指定
type GrantRequest struct {
	PrincipalID uint64
	Email       string
	CanDownload bool
	CanShare    bool
	Revocable   *bool
}

type fileService struct {
	fileRepo  repositories.FileRepository
	permRepo  repositories.PermissionRepository
	userRepo  repositories.UserRepository
	shareRepo repositories.ShareRepository
	resolver  *permission.Resolver
	storage   storage.StorageService
	publisher mq.Publisher
	purger    *Purger
	recorder  audit.Recorder
	cfg       *config.Config
	clock     func() time.Time
}

var _ FileService = (*fileService)(nil)

// FileServiceDeps 文件服务的外部依赖
type FileServiceDeps struct {
	Storage   storage.StorageService
	Publisher mq.Publisher // 为 nil 时删除在请求内同步清理
	Purger    *Purger
	Recorder  audit.Recorder
	Config    *config.Config
}

// NewFileService 创建一个新的文件服务实例
func NewFileService(
	fileRepo repositories.FileRepository,
	permRepo repositories.PermissionRepository,
	userRepo repositories.UserRepository,
	shareRepo repositories.ShareRepository,
	resolver *permission.Resolver,
	deps FileServiceDeps,
) FileService {
	return &fileService{
		fileRepo:  fileRepo,
		permRepo:  permRepo,
		userRepo:  userRepo,
		shareRepo: shareRepo,
		resolver:  resolver,
		storage:   deps.Storage,
		publisher: deps.Publisher,
		purger:    deps.Purger,
		recorder:  deps.Recorder,
		cfg:       deps.Config,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *fileService) Upload(ctx context.Context, p *models.Principal, in UploadInput) (*models.File, error) {
	if p == nil {
		return nil, xerr.ErrUnauthorized
	}
	if p.Role == models.RoleViewer {
		return nil, fmt.Errorf("file service: viewer cannot upload: %w", xerr.ErrPermissionDenied)
	}
	name, err := normalizeFileName(in.FileName)
	if err != nil {
		return nil, err
	}
	if in.Size < 0 {
		return nil, xerr.ErrInvalidParams
	}
	if limit := s.cfg.Storage.MaxFileSizeMB; limit > 0 && in.Size > limit*1024*1024 {
		logger.Warn("Upload: file too large", zap.Uint64("userID", p.UserID), zap.Int64("size", in.Size), zap.Int64("limitMB", limit))
		return nil, xerr.ErrFileTooLarge
	}

	fileUUID := uuid.NewString()
	bucket := s.cfg.BucketName()
	objectName := storage.ObjectName(p.UserID, fileUUID, name)
	mimeType := detectMimeType(name, in.MimeType)

	put, err := s.storage.PutObject(ctx, bucket, objectName, in.Reader, in.Size, mimeType)
	if err != nil {
		logger.Error("Upload: failed to put object", zap.String("object", objectName), zap.Error(err))
		s.recordFile(ctx, p, models.AuditActionFileUpload, 0, models.AuditOutcomeFailure, "storage_error", map[string]any{"filename": name})
		return nil, fmt.Errorf("file service: put object: %w: %w", xerr.ErrStorageUnavailable, err)
	}

	size := uint64(in.Size)
	if put.Size > 0 {
		size = uint64(put.Size)
	}
	file := &models.File{
		UUID:      fileUUID,
		UserID:    p.UserID,
		FileName:  name,
		Size:      size,
		MimeType:  &mimeType,
		OssBucket: &bucket,
		OssKey:    &objectName,
		Status:    models.StatusNormal,
	}
	if err := s.fileRepo.Create(ctx, file); err != nil {
		// 元数据写入失败时清理已上传的对象，避免孤儿对象
		if rmErr := s.storage.RemoveObject(context.WithoutCancel(ctx), bucket, objectName); rmErr != nil {
			logger.Error("Upload: failed to clean up orphan object", zap.String("object", objectName), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("file service: create file record: %w", err)
	}

	s.recordFile(ctx, p, models.AuditActionFileUpload, file.ID, models.AuditOutcomeSuccess, "", map[string]any{
		"filename": name,
		"size":     size,
	})
	logger.Info("Upload success", zap.Uint64("userID", p.UserID), zap.Uint64("fileID", file.ID), zap.Uint64("size", size))
	return file, nil
}

func (s *fileService) Get(ctx context.Context, p *models.Principal, fileID uint64) (*models.File, error) {
	file, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionRead)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *fileService) ListMine(ctx context.Context, p *models.Principal, page, pageSize int) ([]models.File, int64, error) {
	if p == nil {
		return nil, 0, xerr.ErrUnauthorized
	}
	page, pageSize = normalizePage(page, pageSize)
	return s.fileRepo.ListByUser(ctx, p.UserID, page, pageSize)
}

func (s *fileService) ListSharedWithMe(ctx context.Context, p *models.Principal) ([]SharedFile, error) {
	if p == nil {
		return nil, xerr.ErrUnauthorized
	}
	perms, err := s.permRepo.ListByPrincipal(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	shared := make([]SharedFile, 0, len(perms))
	for _, perm := range perms {
		// 已删除的文件不会被预加载
		if perm.File == nil || perm.File.Status != models.StatusNormal {
			continue
		}
		shared = append(shared, SharedFile{
			File:        *perm.File,
			CanDownload: perm.CanDownload,
			CanShare:    perm.CanShare,
			GrantedBy:   perm.GrantedBy,
			GrantedAt:   perm.GrantedAt,
		})
	}
	return shared, nil
}

func (s *fileService) Download(ctx context.Context, p *models.Principal, fileID uint64) (*FileContent, error) {
	file, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionDownload)
	if err != nil {
		if errors.Is(err, xerr.ErrPermissionDenied) {
			s.recordFile(ctx, p, models.AuditActionFileDownload, fileID, models.AuditOutcomeDenied, "no_permission", nil)
		}
		return nil, err
	}
	if err := ensureAvailable(file); err != nil {
		return nil, err
	}

	obj, err := s.storage.GetObject(ctx, file.Bucket(s.cfg.BucketName()), *file.OssKey)
	if err != nil {
		s.recordFile(ctx, p, models.AuditActionFileDownload, fileID, models.AuditOutcomeFailure, "storage_error", nil)
		if errors.Is(err, xerr.ErrObjectNotFound) {
			logger.Error("Download: object missing for live file", zap.Uint64("fileID", fileID), zap.String("key", *file.OssKey))
			return nil, xerr.ErrFileNotFound
		}
		return nil, fmt.Errorf("file service: get object: %w: %w", xerr.ErrStorageUnavailable, err)
	}

	mimeType := obj.MimeType
	if file.MimeType != nil && *file.MimeType != "" {
		mimeType = *file.MimeType
	}
	size := obj.Size
	if size <= 0 {
		size = int64(file.Size)
	}
	s.recordFile(ctx, p, models.AuditActionFileDownload, fileID, models.AuditOutcomeSuccess, "", map[string]any{"bytes": size})
	return &FileContent{File: file, MimeType: mimeType, Size: size, Reader: obj.Reader}, nil
}

func (s *fileService) Delete(ctx context.Context, p *models.Principal, fileID uint64) error {
	file, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionManage)
	if err != nil {
		if errors.Is(err, xerr.ErrPermissionDenied) {
			s.recordFile(ctx, p, models.AuditActionFileDelete, fileID, models.AuditOutcomeDenied, "no_permission", nil)
		}
		return err
	}

	if err := s.fileRepo.SoftDelete(ctx, fileID); err != nil {
		return fmt.Errorf("file service: soft delete: %w", err)
	}
	// 文件删除后它的分享链接立即失效
	deactivated, err := s.shareRepo.DeactivateByFile(ctx, fileID)
	if err != nil {
		logger.Error("Delete: failed to deactivate share grants", zap.Uint64("fileID", fileID), zap.Error(err))
	}

	task := models.DeleteFileTask{FileID: file.ID, UserID: file.UserID, OssBucket: file.Bucket(s.cfg.BucketName())}
	if file.OssKey != nil {
		task.OssKey = *file.OssKey
	}
	async := s.enqueueDelete(task)
	if !async && s.purger != nil {
		if err := s.purger.Purge(ctx, task); err != nil {
			// 文件已对用户不可见，清理失败只记录
			logger.Error("Delete: inline purge failed, object needs manual cleanup", zap.Uint64("fileID", fileID), zap.Error(err))
		}
	}

	s.recordFile(ctx, p, models.AuditActionFileDelete, fileID, models.AuditOutcomeSuccess, "", map[string]any{
		"owner_id":           file.UserID,
		"grants_deactivated": deactivated,
		"async_purge":        async,
	})
	logger.Info("Delete success", zap.Uint64("fileID", fileID), zap.String("actor", p.Actor()), zap.Bool("async", async))
	return nil
}

// enqueueDelete 发布删除任务，返回是否已交给 worker 处理
func (s *fileService) enqueueDelete(task models.DeleteFileTask) bool {
	if s.publisher == nil {
		return false
	}
	body, err := json.Marshal(task)
	if err != nil {
		logger.Error("enqueueDelete: failed to marshal task", zap.Uint64("fileID", task.FileID), zap.Error(err))
		return false
	}
	if err := s.publisher.Publish(mq.FileDeleteQueue, body); err != nil {
		logger.Error("enqueueDelete: failed to publish delete task, falling back to inline purge", zap.Uint64("fileID", task.FileID), zap.Error(err))
		return false
	}
	return true
}

func (s *fileService) GrantPermission(ctx context.Context, p *models.Principal, fileID uint64, req GrantRequest) (*models.FilePermission, error) {
	file, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionManage)
	if err != nil {
		if errors.Is(err, xerr.ErrPermissionDenied) {
			s.recordPermission(ctx, p, models.AuditActionPermissionGrant, fileID, 0, models.AuditOutcomeDenied, "no_permission")
		}
		return nil, err
	}

	grantee, err := s.lookupGrantee(ctx, req)
	if err != nil {
		return nil, err
	}
	if grantee.ID == file.UserID {
		verr := &xerr.ValidationError{}
		verr.Add("cannot grant permission to the file owner")
		return nil, verr
	}

	revocable := true
	if req.Revocable != nil {
		revocable = *req.Revocable
	}
	perm := &models.FilePermission{
		FileID:      fileID,
		PrincipalID: grantee.ID,
		GrantedBy:   p.UserID,
		CanDownload: req.CanDownload,
		CanShare:    req.CanShare,
		Revocable:   revocable,
		GrantedAt:   s.clock(),
	}
	if err := s.permRepo.Upsert(ctx, perm); err != nil {
		return nil, fmt.Errorf("file service: save permission: %w", err)
	}

	s.recordPermission(ctx, p, models.AuditActionPermissionGrant, fileID, grantee.ID, models.AuditOutcomeSuccess, "")
	logger.Info("GrantPermission success", zap.Uint64("fileID", fileID), zap.Uint64("principalID", grantee.ID))
	return perm, nil
}

func (s *fileService) lookupGrantee(ctx context.Context, req GrantRequest) (*models.User, error) {
	switch {
	case req.PrincipalID != 0:
		return s.userRepo.GetUserByID(ctx, req.PrincipalID)
	case req.Email != "":
		return s.userRepo.GetUserByEmail(ctx, req.Email)
	default:
		verr := &xerr.ValidationError{}
		verr.Add("principal_id or email is required")
		return nil, verr
	}
}

func (s *fileService) RevokePermission(ctx context.Context, p *models.Principal, fileID, principalID uint64) error {
	if _, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionManage); err != nil {
		if errors.Is(err, xerr.ErrPermissionDenied) {
			s.recordPermission(ctx, p, models.AuditActionPermissionRevoke, fileID, principalID, models.AuditOutcomeDenied, "no_permission")
		}
		return err
	}

	perm, err := s.permRepo.Find(ctx, fileID, principalID)
	if err != nil {
		return err
	}
	if perm == nil {
		return xerr.ErrPermissionNotFound
	}
	// 不可撤销的授权只有管理员能收回
	if !perm.Revocable && !p.IsAdmin() {
		s.recordPermission(ctx, p, models.AuditActionPermissionRevoke, fileID, principalID, models.AuditOutcomeDenied, "not_revocable")
		return fmt.Errorf("file service: permission is not revocable: %w", xerr.ErrPermissionDenied)
	}
	if err := s.permRepo.Delete(ctx, fileID, principalID); err != nil {
		return err
	}

	s.recordPermission(ctx, p, models.AuditActionPermissionRevoke, fileID, principalID, models.AuditOutcomeSuccess, "")
	return nil
}

func (s *fileService) ListPermissions(ctx context.Context, p *models.Principal, fileID uint64) ([]models.FilePermission, error) {
	if _, _, err := s.resolver.Authorize(ctx, p, fileID, permission.ActionManage); err != nil {
		return nil, err
	}
	return s.permRepo.ListByFile(ctx, fileID)
}

func (s *fileService) recordFile(ctx context.Context, p *models.Principal, action string, fileID uint64, outcome, reason string, extra map[string]any) {
	s.recorder.Record(ctx, audit.Event{
		Actor:        p.Actor(),
		Action:       action,
		ResourceType: "file",
		ResourceID:   strconv.FormatUint(fileID, 10),
		FileID:       fileID,
		Outcome:      outcome,
		Reason:       reason,
		Context:      extra,
	})
}

func (s *fileService) recordPermission(ctx context.Context, p *models.Principal, action string, fileID, principalID uint64, outcome, reason string) {
	s.recorder.Record(ctx, audit.Event{
		Actor:        p.Actor(),
		Action:       action,
		ResourceType: "file_permission",
		ResourceID:   strconv.FormatUint(fileID, 10),
		FileID:       fileID,
		Outcome:      outcome,
		Reason:       reason,
		Context:      map[string]any{"principal_id": principalID},
	})
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}
