package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/sharetoken"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/3Eeeecho/go-filevault/internal/services/permission"
	"go.uber.org/zap"
)

// ShareService 定义了分享链接服务需要实现的接口
type ShareService interface {
	// CreateShare 为文件创建分享链接，调用者需要对文件有 share 权限
	CreateShare(ctx context.Context, p *models.Principal, req CreateRequest) (*CreateResult, error)
	// GetInfo 匿名查询分享链接对应的文件信息，任何不可兑换的状态都返回 NotFound 类拒绝
	GetInfo(ctx context.Context, rawToken string) (*Info, error)
	// Redeem 兑换分享链接并打开文件流，调用方负责关闭 Download.Reader
	Redeem(ctx context.Context, rawToken string, in RedeemInput) (*Download, error)
	// ListMine 列出当前用户创建的分享链接，包括已失效的
	ListMine(ctx context.Context, p *models.Principal, page, pageSize int) ([]View, int64, error)
	// RevokeByID 撤销分享链接，重复撤销视为成功
	RevokeByID(ctx context.Context, p *models.Principal, id uint64) (*models.ShareGrant, error)
	// RevokeByToken 通过 token 撤销分享链接
	RevokeByToken(ctx context.Context, p *models.Principal, rawToken string) (*models.ShareGrant, error)
}

// CreateResult 创建成功后返回给所有者的信息
type CreateResult struct {
	Grant            *models.ShareGrant
	ShareURL         string
	ExpiresInMinutes int
}

// Info 分享链接的公开信息
type Info struct {
	FileName     string
	Size         uint64
	HasPassword  bool
	RequiresAuth bool
}

// Download 兑换成功后的文件流
type Download struct {
	Grant    *models.ShareGrant
	FileName string
	MimeType string
	Size     int64
	Reader   io.ReadCloser
}

// View 分享列表中的一项
type View struct {
	Grant    models.ShareGrant
	FileName string
	Status   string // active / expired / revoked / exhausted
}

// 分享链接列表中的状态
const (
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusRevoked   = "revoked"
	StatusExhausted = "exhausted"
)

// Option 调整 shareService 的可替换依赖
type Option func(*shareService)

// WithClock 替换时间来源，测试中模拟时间流逝
func WithClock(now func() time.Time) Option {
	return func(s *shareService) { s.now = now }
}

// WithTokenSource 替换 token 生成器
func WithTokenSource(mint func() (string, error)) Option {
	return func(s *shareService) { s.mint = mint }
}

// shareService 是 ShareService 接口的具体实现
type shareService struct {
	shareRepo repositories.ShareRepository
	fileRepo  repositories.FileRepository
	resolver  *permission.Resolver
	storage   storage.StorageService
	recorder  audit.Recorder
	metrics   *metrics.Metrics
	policy    *Policy
	cfg       *config.Config

	now  func() time.Time
	mint func() (string, error)
}

var _ ShareService = (*shareService)(nil)

// NewShareService 创建一个新的 ShareService 实例
func NewShareService(
	shareRepo repositories.ShareRepository,
	fileRepo repositories.FileRepository,
	resolver *permission.Resolver,
	storageService storage.StorageService,
	recorder audit.Recorder,
	m *metrics.Metrics,
	policy *Policy,
	cfg *config.Config,
	opts ...Option,
) ShareService {
	s := &shareService{
		shareRepo: shareRepo,
		fileRepo:  fileRepo,
		resolver:  resolver,
		storage:   storageService,
		recorder:  recorder,
		metrics:   m,
		policy:    policy,
		cfg:       cfg,
		now:       time.Now,
		mint:      sharetoken.Mint,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// 统一使用 UTC，数据库里的时间比较不受时区影响
func (s *shareService) clock() time.Time {
	return s.now().UTC()
}

// CreateShare 处理创建分享链接的业务逻辑
func (s *shareService) CreateShare(ctx context.Context, p *models.Principal, req CreateRequest) (*CreateResult, error) {
	if p == nil {
		return nil, xerr.ErrUnauthorized
	}
	now := s.clock()

	// 1. 参数校验，所有问题一次性返回给创建者
	spec, err := s.policy.ValidateCreate(req, now)
	if err != nil {
		return nil, err
	}

	// 2. 文件存在且调用者有分享权限
	file, _, err := s.resolver.Authorize(ctx, p, req.FileID, permission.ActionShare)
	if err != nil {
		if errors.Is(err, xerr.ErrPermissionDenied) {
			s.recordCreate(ctx, p, nil, req.FileID, models.AuditOutcomeDenied, "no_permission")
		}
		return nil, err
	}
	if !file.Available() {
		return nil, xerr.ErrFileStatusInvalid
	}

	grant := &models.ShareGrant{
		FileID:           file.ID,
		OwnerID:          p.UserID,
		ExpiresAt:        spec.ExpiresAt,
		MaxDownloads:     spec.MaxDownloads,
		RequiresAuth:     spec.RequiresAuth,
		AllowedPrincipal: spec.AllowedPrincipal,
		IsActive:         true,
		CreatedAt:        now,
	}
	if spec.Password != "" {
		hash, err := utils.HashPassword(spec.Password)
		if err != nil {
			return nil, fmt.Errorf("share service: hash password: %w", err)
		}
		grant.PasswordHash = &hash
	}

	// 3. 生成 token 并持久化，冲突时重新生成
	if err := s.persistWithFreshToken(ctx, grant); err != nil {
		return nil, err
	}

	s.recordCreate(ctx, p, grant, file.ID, models.AuditOutcomeSuccess, "")
	logger.Info("CreateShare: share link created",
		zap.Uint64("shareID", grant.ID),
		zap.Uint64("fileID", file.ID),
		zap.Uint64("ownerID", p.UserID),
		zap.Time("expiresAt", grant.ExpiresAt))

	return &CreateResult{
		Grant:            grant,
		ShareURL:         s.shareURL(grant.Token),
		ExpiresInMinutes: spec.ExpiresInMinutes,
	}, nil
}

func (s *shareService) persistWithFreshToken(ctx context.Context, grant *models.ShareGrant) error {
	attempts := s.cfg.Share.TokenMintAttempts
	if attempts <= 0 {
		attempts = 3
	}
	for i := 1; i <= attempts; i++ {
		token, err := s.mint()
		if err != nil {
			return fmt.Errorf("share service: mint token: %w", err)
		}
		grant.Token = token
		err = s.shareRepo.Create(ctx, grant)
		if err == nil {
			return nil
		}
		if !errors.Is(err, xerr.ErrShareTokenConflict) {
			return err
		}
		logger.Warn("CreateShare: token collision, regenerating", zap.Int("attempt", i))
	}
	return xerr.ErrShareTokenConflict
}

func (s *shareService) shareURL(token string) string {
	return strings.TrimRight(s.cfg.Server.BaseURL, "/") + "/share/" + token
}

func (s *shareService) recordCreate(ctx context.Context, p *models.Principal, grant *models.ShareGrant, fileID uint64, outcome, reason string) {
	resourceID := ""
	fields := map[string]any{"file_id": fileID}
	if grant != nil {
		resourceID = strconv.FormatUint(grant.ID, 10)
		fields["expires_at"] = grant.ExpiresAt
		fields["has_password"] = grant.HasPassword()
		fields["requires_auth"] = grant.RequiresAuth
		if grant.MaxDownloads != nil {
			fields["max_downloads"] = *grant.MaxDownloads
		}
	}
	s.recorder.Record(ctx, audit.Event{
		Actor:        p.Actor(),
		Action:       models.AuditActionShareCreate,
		ResourceType: "share",
		ResourceID:   resourceID,
		FileID:       fileID,
		Outcome:      outcome,
		Reason:       reason,
		Context:      fields,
	})
}

// lookup 解析 token 并读取凭证与文件。token 格式错误或不存在时 grant 为 nil
func (s *shareService) lookup(ctx context.Context, rawToken string) (*models.ShareGrant, *models.File, error) {
	token, err := sharetoken.Parse(rawToken)
	if err != nil {
		return nil, nil, nil
	}
	grant, err := s.shareRepo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, xerr.ErrShareNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	file, err := s.fileRepo.FindByID(ctx, grant.FileID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			return grant, nil, nil
		}
		return grant, nil, err
	}
	return grant, file, nil
}

// GetInfo 返回分享链接的公开信息
func (s *shareService) GetInfo(ctx context.Context, rawToken string) (*Info, error) {
	grant, file, err := s.lookup(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	decision := s.policy.CheckAvailability(grant, file.Available(), s.clock())
	if !decision.Allowed {
		logger.Debug("GetInfo: share not available", zap.String("reason", string(decision.Reason)))
		return nil, xerr.NewDenyError(decision.Reason)
	}
	return &Info{
		FileName:     file.FileName,
		Size:         file.Size,
		HasPassword:  grant.HasPassword(),
		RequiresAuth: grant.RequiresAuth,
	}, nil
}

// redemption 一次兑换尝试的审计上下文
type redemption struct {
	actor    string
	grant    *models.ShareGrant
	outcome  string
	reason   string
	fileID   uint64
	bytes    int64
	malform  bool
	consumed bool
}

// Redeem 兑换流程: 解析 → 读取 → 判定 → 原子提交计数 → 打开对象流。
// 每次调用恰好产生一条审计事件。
func (s *shareService) Redeem(ctx context.Context, rawToken string, in RedeemInput) (*Download, error) {
	attempt := &redemption{actor: in.Principal.Actor()}
	defer func() { s.finishRedemption(ctx, attempt) }()

	// 1. 格式不对的 token 不访问数据库，但密码比较照常执行
	token, parseErr := sharetoken.Parse(rawToken)
	if parseErr != nil {
		attempt.malform = true
		return nil, s.denyUnknown(attempt, in)
	}

	// 2. 读取凭证与文件
	grant, err := s.shareRepo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, xerr.ErrShareNotFound) {
			return nil, s.denyUnknown(attempt, in)
		}
		return nil, s.failAttempt(attempt, "database_unavailable", err)
	}
	attempt.grant = grant
	attempt.fileID = grant.FileID

	file, err := s.fileRepo.FindByID(ctx, grant.FileID)
	if err != nil && !errors.Is(err, xerr.ErrFileNotFound) {
		return nil, s.failAttempt(attempt, "database_unavailable", err)
	}

	// 3. 策略判定
	now := s.clock()
	decision := s.policy.EvaluateRedemption(grant, file.Available(), in, now)
	if !decision.Allowed {
		return nil, s.denyAttempt(attempt, decision.Reason)
	}

	// 4. 原子提交。提交后发现已被并发请求用尽，按次数用尽处理，不重试
	if err := s.shareRepo.CommitRedemption(ctx, token, grant.DownloadCount, now); err != nil {
		if reason, ok := xerr.DenyReasonOf(err); ok {
			return nil, s.denyAttempt(attempt, reason)
		}
		if errors.Is(err, xerr.ErrShareStale) {
			return nil, s.denyAttempt(attempt, xerr.DenyQuotaExceeded)
		}
		if errors.Is(err, xerr.ErrContention) {
			return nil, s.failAttempt(attempt, "contention", err)
		}
		return nil, s.failAttempt(attempt, "database_unavailable", err)
	}
	attempt.consumed = true
	grant.DownloadCount++

	// 5. 提交成功后才打开对象流，失败不退还已消耗的次数
	obj, err := s.storage.GetObject(ctx, file.Bucket(s.cfg.BucketName()), *file.OssKey)
	if err != nil {
		logger.Error("Redeem: object store failure after commit, download slot stays consumed",
			zap.Uint64("shareID", grant.ID),
			zap.Uint64("fileID", file.ID),
			zap.Error(err))
		return nil, s.failAttempt(attempt, "storage_unavailable", fmt.Errorf("%w: %w", xerr.ErrStorageUnavailable, err))
	}

	attempt.outcome = models.AuditOutcomeSuccess
	attempt.bytes = obj.Size
	size := obj.Size
	if size <= 0 {
		size = int64(file.Size)
	}
	mimeType := obj.MimeType
	if file.MimeType != nil && *file.MimeType != "" {
		mimeType = *file.MimeType
	}
	return &Download{
		Grant:    grant,
		FileName: file.FileName,
		MimeType: mimeType,
		Size:     size,
		Reader:   obj.Reader,
	}, nil
}

func (s *shareService) denyAttempt(attempt *redemption, reason xerr.DenyReason) error {
	attempt.outcome = models.AuditOutcomeDenied
	attempt.reason = string(reason)
	return xerr.NewDenyError(reason)
}

// denyUnknown 不存在的 token 与已失效的凭证耗时一致
func (s *shareService) denyUnknown(attempt *redemption, in RedeemInput) error {
	decision := s.policy.EvaluateRedemption(nil, false, in, s.clock())
	return s.denyAttempt(attempt, decision.Reason)
}

func (s *shareService) failAttempt(attempt *redemption, reason string, err error) error {
	attempt.outcome = models.AuditOutcomeFailure
	attempt.reason = reason
	return err
}

func (s *shareService) finishRedemption(ctx context.Context, attempt *redemption) {
	s.metrics.RecordRedemption(attempt.outcome, attempt.reason)

	resourceID := ""
	fields := map[string]any{}
	if attempt.grant != nil {
		resourceID = strconv.FormatUint(attempt.grant.ID, 10)
		fields["file_id"] = attempt.fileID
		fields["download_count"] = attempt.grant.DownloadCount
		fields["slot_consumed"] = attempt.consumed
	}
	if attempt.malform {
		fields["malformed_token"] = true
	}
	if attempt.bytes > 0 {
		fields["bytes"] = attempt.bytes
	}

	s.recorder.Record(ctx, audit.Event{
		Actor:        attempt.actor,
		Action:       models.AuditActionShareRedeem,
		ResourceType: "share",
		ResourceID:   resourceID,
		FileID:       attempt.fileID,
		Outcome:      attempt.outcome,
		Reason:       attempt.reason,
		Context:      fields,
	})
}

// ListMine 列出当前用户创建的分享链接
func (s *shareService) ListMine(ctx context.Context, p *models.Principal, page, pageSize int) ([]View, int64, error) {
	if p == nil {
		return nil, 0, xerr.ErrUnauthorized
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	grants, total, err := s.shareRepo.ListByOwner(ctx, p.UserID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	now := s.clock()
	views := make([]View, 0, len(grants))
	for _, g := range grants {
		v := View{Grant: g, Status: grantStatus(&g, now)}
		if g.File != nil {
			v.FileName = g.File.FileName
		}
		views = append(views, v)
	}
	return views, total, nil
}

func grantStatus(g *models.ShareGrant, now time.Time) string {
	switch {
	case g.Redeemable(now):
		return StatusActive
	case !g.IsActive:
		return StatusRevoked
	case !now.Before(g.ExpiresAt):
		return StatusExpired
	}
	return StatusExhausted
}

// RevokeByID 撤销分享链接
func (s *shareService) RevokeByID(ctx context.Context, p *models.Principal, id uint64) (*models.ShareGrant, error) {
	if p == nil {
		return nil, xerr.ErrUnauthorized
	}
	grant, err := s.shareRepo.Revoke(ctx, id, p.UserID, p.IsAdmin())
	resourceID := strconv.FormatUint(id, 10)
	switch {
	case err == nil:
		fields := map[string]any{"file_id": grant.FileID}
		if grant.OwnerID != p.UserID {
			fields["admin_override"] = true
		}
		s.recorder.Record(ctx, audit.Event{
			Actor:        p.Actor(),
			Action:       models.AuditActionShareRevoke,
			ResourceType: "share",
			ResourceID:   resourceID,
			FileID:       grant.FileID,
			Outcome:      models.AuditOutcomeSuccess,
			Context:      fields,
		})
		logger.Info("RevokeByID: share link revoked", zap.Uint64("shareID", id), zap.Uint64("actorID", p.UserID))
		return grant, nil
	case errors.Is(err, xerr.ErrPermissionDenied):
		s.recorder.Record(ctx, audit.Event{
			Actor:        p.Actor(),
			Action:       models.AuditActionShareRevoke,
			ResourceType: "share",
			ResourceID:   resourceID,
			Outcome:      models.AuditOutcomeDenied,
			Reason:       "not_owner",
		})
	}
	return nil, err
}

// RevokeByToken 通过 token 找到凭证再撤销
func (s *shareService) RevokeByToken(ctx context.Context, p *models.Principal, rawToken string) (*models.ShareGrant, error) {
	if p == nil {
		return nil, xerr.ErrUnauthorized
	}
	token, err := sharetoken.Parse(rawToken)
	if err != nil {
		return nil, xerr.ErrShareNotFound
	}
	grant, err := s.shareRepo.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.RevokeByID(ctx, p, grant.ID)
}
