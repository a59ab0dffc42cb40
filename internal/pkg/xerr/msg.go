package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams     = errors.New("无效的请求参数")
	ErrValidationFailed  = errors.New("参数验证失败")
	ErrFileTooLarge      = errors.New("上传文件过大，超出限制")
	ErrFileNameInvalid   = errors.New("文件名包含非法字符")
	ErrFileStatusInvalid = errors.New("文件状态异常，无法执行操作")

	// 认证与授权错误
	ErrUnauthorized       = errors.New("用户未授权")
	ErrTokenInvalid       = errors.New("认证 Token 无效或已过期")
	ErrInvalidCredentials = errors.New("用户名或密码不正确")
	ErrUserAlreadyExists  = errors.New("该用户名已被注册")
	ErrEmailAlreadyExists = errors.New("邮箱已被注册")

	// 权限错误
	ErrForbidden        = errors.New("禁止访问")
	ErrPermissionDenied = errors.New("您没有操作此资源的权限")

	// 资源未找到错误
	ErrUserNotFound       = errors.New("用户不存在")
	ErrFileNotFound       = errors.New("文件不存在")
	ErrShareNotFound      = errors.New("分享链接不存在或已失效")
	ErrPermissionNotFound = errors.New("授权记录不存在")

	// 分享链接
	ErrShareTokenMalformed = errors.New("分享链接格式无效")
	ErrShareTokenConflict  = errors.New("分享 token 冲突")
	ErrShareStale          = errors.New("分享链接状态在校验后已变化")
	ErrShareDenied         = errors.New("access denied")

	// 数据库与外部服务错误
	ErrDatabaseError      = errors.New("数据库操作失败")
	ErrStorageError       = errors.New("存储服务操作失败")
	ErrStorageUnavailable = errors.New("存储服务暂不可用")
	ErrObjectNotFound     = errors.New("存储对象不存在")
	ErrMQError            = errors.New("消息队列操作失败")
	ErrContention         = errors.New("并发冲突，请稍后重试")
)
