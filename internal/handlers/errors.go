package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError 把服务层错误映射为 HTTP 状态码和业务码，未识别的错误统一 500
func writeError(c *gin.Context, op string, err error) {
	if reason, ok := xerr.DenyReasonOf(err); ok {
		status, code, msg := xerr.DenyStatus(reason)
		xerr.Error(c, status, code, msg)
		return
	}

	var verr *xerr.ValidationError
	if errors.As(err, &verr) {
		xerr.ErrorWithData(c, http.StatusBadRequest, xerr.ValidationFailedCode, "参数验证失败", gin.H{"reasons": verr.Reasons})
		return
	}

	switch {
	case errors.Is(err, xerr.ErrInvalidParams):
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, err.Error())
	case errors.Is(err, xerr.ErrFileTooLarge):
		xerr.Error(c, http.StatusRequestEntityTooLarge, xerr.FileTooLargeCode, err.Error())
	case errors.Is(err, xerr.ErrFileNameInvalid):
		xerr.Error(c, http.StatusBadRequest, xerr.FileNameInvalidCode, err.Error())
	case errors.Is(err, xerr.ErrFileStatusInvalid):
		xerr.Error(c, http.StatusConflict, xerr.FileStatusInvalidCode, err.Error())
	case errors.Is(err, xerr.ErrUnauthorized):
		xerr.Error(c, http.StatusUnauthorized, xerr.UnauthorizedCode, err.Error())
	case errors.Is(err, xerr.ErrInvalidCredentials):
		xerr.Error(c, http.StatusUnauthorized, xerr.InvalidCredentialsCode, err.Error())
	case errors.Is(err, xerr.ErrPermissionDenied):
		xerr.Error(c, http.StatusForbidden, xerr.PermissionDeniedCode, "您没有操作此资源的权限")
	case errors.Is(err, xerr.ErrForbidden):
		xerr.Error(c, http.StatusForbidden, xerr.ForbiddenCode, err.Error())
	case errors.Is(err, xerr.ErrUserNotFound):
		xerr.Error(c, http.StatusNotFound, xerr.UserNotFoundCode, err.Error())
	case errors.Is(err, xerr.ErrFileNotFound):
		xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
	case errors.Is(err, xerr.ErrShareNotFound):
		xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, err.Error())
	case errors.Is(err, xerr.ErrPermissionNotFound):
		xerr.Error(c, http.StatusNotFound, xerr.PermissionNotFoundCode, err.Error())
	case errors.Is(err, xerr.ErrUserAlreadyExists):
		xerr.Error(c, http.StatusConflict, xerr.UserAlreadyExistsCode, err.Error())
	case errors.Is(err, xerr.ErrEmailAlreadyExists):
		xerr.Error(c, http.StatusConflict, xerr.EmailAlreadyExistsCode, err.Error())
	case errors.Is(err, xerr.ErrContention):
		c.Header("Retry-After", "1")
		xerr.Error(c, http.StatusServiceUnavailable, xerr.ContentionCode, err.Error())
	case errors.Is(err, xerr.ErrDatabaseError), errors.Is(err, xerr.ErrStorageUnavailable),
		errors.Is(err, xerr.ErrStorageError), errors.Is(err, xerr.ErrMQError):
		logger.Error(op+": dependency failure", zap.Error(err))
		xerr.Error(c, http.StatusServiceUnavailable, xerr.ServiceUnavailableCode, "服务暂不可用，请稍后重试")
	default:
		logger.Error(op+": unexpected error", zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "服务器内部错误")
	}
}

// paramUint64 解析路径参数，失败时写入 400 响应
func paramUint64(c *gin.Context, name string) (uint64, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, name+" 格式无效")
		return 0, false
	}
	return v, true
}

// pagination 读取 page 与 page_size 查询参数
func pagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}
