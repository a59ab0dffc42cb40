package share

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt 只处理前 72 字节
const maxPasswordBytes = 72

// CreateRequest 创建分享链接的参数
type CreateRequest struct {
	FileID           uint64
	ExpiresInMinutes *int
	MaxDownloads     *int64
	Password         *string
	RequiresAuth     bool
	AllowedPrincipal *string
}

// GrantSpec 通过校验后的凭证参数，尚未生成 token
type GrantSpec struct {
	ExpiresAt        time.Time
	ExpiresInMinutes int
	MaxDownloads     *int64
	Password         string // 明文，持久化前再做哈希
	RequiresAuth     bool
	AllowedPrincipal *string
}

// RedeemInput 兑换时调用方提供的凭据
type RedeemInput struct {
	Password  *string
	Principal *models.Principal
}

// Decision 兑换判定。Allowed 为 false 时 Reason 给出精确原因
type Decision struct {
	Allowed bool
	Reason  xerr.DenyReason
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason xerr.DenyReason) Decision { return Decision{Reason: reason} }

// Policy 分享链接的全部策略判断，不访问任何外部依赖
type Policy struct {
	cfg       config.ShareConfig
	validate  *validator.Validate
	dummyHash []byte
	compare   func(hashed, password []byte) error
}

// NewPolicy 未配置的阈值回落到默认值
func NewPolicy(cfg config.ShareConfig) *Policy {
	if cfg.MinExpiryMinutes < 1 {
		cfg.MinExpiryMinutes = 1
	}
	if cfg.MaxExpiryMinutes < cfg.MinExpiryMinutes {
		cfg.MaxExpiryMinutes = 43200
	}
	if cfg.DefaultExpiryMinutes < cfg.MinExpiryMinutes || cfg.DefaultExpiryMinutes > cfg.MaxExpiryMinutes {
		cfg.DefaultExpiryMinutes = 60
	}
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 8
	}
	if cfg.PasswordMinClasses <= 0 {
		cfg.PasswordMinClasses = 3
	}

	// 与真实密码哈希同样代价的占位哈希，没有密码的凭证也跑一次比较
	dummy, err := bcrypt.GenerateFromPassword([]byte("filevault-placeholder-secret"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("share policy: generate placeholder hash: %v", err))
	}
	return &Policy{cfg: cfg, validate: validator.New(), dummyHash: dummy, compare: bcrypt.CompareHashAndPassword}
}

// ValidateCreate 校验创建参数，所有不满足的规则一次性返回
func (p *Policy) ValidateCreate(req CreateRequest, now time.Time) (*GrantSpec, error) {
	verr := &xerr.ValidationError{}

	minutes := p.cfg.DefaultExpiryMinutes
	if req.ExpiresInMinutes != nil {
		minutes = *req.ExpiresInMinutes
		if minutes < p.cfg.MinExpiryMinutes || minutes > p.cfg.MaxExpiryMinutes {
			verr.Add(fmt.Sprintf("expires_in_minutes must be between %d and %d", p.cfg.MinExpiryMinutes, p.cfg.MaxExpiryMinutes))
		}
	}

	if req.MaxDownloads != nil && *req.MaxDownloads <= 0 {
		verr.Add("max_downloads must be a positive integer")
	}

	var password string
	if req.Password != nil && *req.Password != "" {
		password = *req.Password
		for _, reason := range p.PasswordWeaknesses(password) {
			verr.Add(reason)
		}
	}

	var allowed *string
	if req.AllowedPrincipal != nil {
		if v := strings.TrimSpace(*req.AllowedPrincipal); v != "" {
			normalized, ok := p.normalizePrincipal(v)
			if !ok {
				verr.Add("allowed_principal must be an email address or a user id")
			} else {
				allowed = &normalized
			}
		}
	}

	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	// 限定了对象就必须登录才能核对身份
	return &GrantSpec{
		ExpiresAt:        now.Add(time.Duration(minutes) * time.Minute),
		ExpiresInMinutes: minutes,
		MaxDownloads:     req.MaxDownloads,
		Password:         password,
		RequiresAuth:     req.RequiresAuth || allowed != nil,
		AllowedPrincipal: allowed,
	}, nil
}

// PasswordWeaknesses 列出密码不满足的强度规则，满足时返回 nil
func (p *Policy) PasswordWeaknesses(password string) []string {
	var reasons []string
	if len([]rune(password)) < p.cfg.PasswordMinLength {
		reasons = append(reasons, fmt.Sprintf("password must be at least %d characters", p.cfg.PasswordMinLength))
	}
	if len(password) > maxPasswordBytes {
		reasons = append(reasons, fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r):
			symbol = true
		}
	}
	var missing []string
	count := 0
	for _, c := range []struct {
		ok   bool
		name string
	}{{lower, "lowercase"}, {upper, "uppercase"}, {digit, "digit"}, {symbol, "symbol"}} {
		if c.ok {
			count++
		} else {
			missing = append(missing, c.name)
		}
	}
	if count < p.cfg.PasswordMinClasses {
		reasons = append(reasons, fmt.Sprintf("password must mix at least %d of lowercase, uppercase, digit, symbol (missing: %s)",
			p.cfg.PasswordMinClasses, strings.Join(missing, ", ")))
	}
	return reasons
}

// normalizePrincipal 邮箱统一小写，用户ID保持十进制
func (p *Policy) normalizePrincipal(v string) (string, bool) {
	if id, err := strconv.ParseUint(v, 10, 64); err == nil {
		return strconv.FormatUint(id, 10), id > 0
	}
	if err := p.validate.Var(v, "required,email"); err != nil {
		return "", false
	}
	return strings.ToLower(v), true
}

// EvaluateRedemption 判断一次兑换是否允许。
// 检查顺序: 存在 → 撤销 → 过期 → 次数 → 文件 → 登录 → 指定对象 → 密码。
// 只要请求带了密码就执行一次 bcrypt 比较，失败原因不会因耗时不同而被区分。
// grant 为 nil 表示 token 不存在或格式错误，同样会与占位哈希比较一次。
func (p *Policy) EvaluateRedemption(grant *models.ShareGrant, fileExists bool, in RedeemInput, now time.Time) Decision {
	decision := p.precheck(grant, fileExists, in.Principal, now)

	supplied := in.Password != nil && *in.Password != ""
	if supplied {
		hash := p.dummyHash
		compareReal := decision.Allowed && grant.HasPassword()
		if compareReal {
			hash = []byte(*grant.PasswordHash)
		}
		// CompareHashAndPassword 内部使用常量时间比较
		err := p.compare(hash, []byte(*in.Password))
		if compareReal && err != nil {
			return deny(xerr.DenyPasswordIncorrect)
		}
	}
	if !decision.Allowed {
		return decision
	}
	if grant.HasPassword() && !supplied {
		return deny(xerr.DenyPasswordRequired)
	}
	return allow()
}

// CheckAvailability 信息查询只关心凭证本身是否仍可兑换
func (p *Policy) CheckAvailability(grant *models.ShareGrant, fileExists bool, now time.Time) Decision {
	switch {
	case grant == nil:
		return deny(xerr.DenyNotFound)
	case !grant.IsActive:
		return deny(xerr.DenyRevoked)
	case !now.Before(grant.ExpiresAt):
		return deny(xerr.DenyExpired)
	case grant.QuotaExhausted():
		return deny(xerr.DenyQuotaExceeded)
	case !fileExists:
		return deny(xerr.DenyFileMissing)
	}
	return allow()
}

func (p *Policy) precheck(grant *models.ShareGrant, fileExists bool, principal *models.Principal, now time.Time) Decision {
	if d := p.CheckAvailability(grant, fileExists, now); !d.Allowed {
		return d
	}
	if (grant.RequiresAuth || grant.AllowedPrincipal != nil) && principal == nil {
		return deny(xerr.DenyAuthRequired)
	}
	if grant.AllowedPrincipal != nil && !principalMatches(*grant.AllowedPrincipal, principal) {
		return deny(xerr.DenyPrincipalMismatch)
	}
	return allow()
}

func principalMatches(allowed string, principal *models.Principal) bool {
	if id, err := strconv.ParseUint(allowed, 10, 64); err == nil {
		return principal.UserID == id
	}
	return principal.Email != "" && strings.EqualFold(principal.Email, allowed)
}
