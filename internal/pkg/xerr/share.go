package xerr

import (
	"errors"
	"net/http"
	"strings"
)

// DenyReason 兑换分享链接被拒绝的具体原因
// 仅用于内部审计与日志，对外只暴露粗粒度的类别
type DenyReason string

const (
	DenyNotFound          DenyReason = "not_found"
	DenyExpired           DenyReason = "expired"
	DenyRevoked           DenyReason = "revoked"
	DenyQuotaExceeded     DenyReason = "quota_exceeded"
	DenyPasswordRequired  DenyReason = "password_required"
	DenyPasswordIncorrect DenyReason = "password_incorrect"
	DenyAuthRequired      DenyReason = "auth_required"
	DenyPrincipalMismatch DenyReason = "principal_mismatch"
	DenyFileMissing       DenyReason = "file_missing"
)

// DenyError 携带拒绝原因的错误，errors.Is(err, ErrShareDenied) 为真
type DenyError struct {
	Reason DenyReason
}

func NewDenyError(reason DenyReason) *DenyError {
	return &DenyError{Reason: reason}
}

func (e *DenyError) Error() string {
	return "share redemption denied: " + string(e.Reason)
}

func (e *DenyError) Is(target error) bool {
	return target == ErrShareDenied
}

// DenyReasonOf 提取错误中的拒绝原因
func DenyReasonOf(err error) (DenyReason, bool) {
	var de *DenyError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}

// DenyStatus 将拒绝原因映射为对外的 HTTP 状态码、业务码和消息。
// 不存在/过期/撤销/次数用尽/文件丢失统一为 404，避免泄露 token 是否曾经存在。
func DenyStatus(reason DenyReason) (int, int, string) {
	switch reason {
	case DenyAuthRequired:
		return http.StatusUnauthorized, ShareAuthRequiredCode, "authentication required"
	case DenyPasswordRequired:
		return http.StatusUnauthorized, SharePasswordRequiredCode, "password required"
	case DenyPasswordIncorrect, DenyPrincipalMismatch:
		return http.StatusForbidden, ShareAccessDeniedCode, "access denied"
	default:
		return http.StatusNotFound, ShareNotFoundCode, "share link not found"
	}
}

// ValidationError 创建分享链接时的参数校验错误，Reasons 逐条列出不满足的规则。
// 创建者是可信的已登录用户，因此原因原样返回。
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// Add 追加一条校验失败原因
func (e *ValidationError) Add(reason string) {
	e.Reasons = append(e.Reasons, reason)
}

// OrNil 没有任何原因时返回 nil
func (e *ValidationError) OrNil() error {
	if len(e.Reasons) == 0 {
		return nil
	}
	return e
}
