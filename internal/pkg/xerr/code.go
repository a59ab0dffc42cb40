package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode     = 40000 // 无效的请求参数
	ValidationFailedCode  = 40001 // 参数验证失败
	FileTooLargeCode      = 40003 // 文件过大
	FileNameInvalidCode   = 40004 // 文件名无效
	FileStatusInvalidCode = 40006 // 文件状态异常，无法操作

	// --- 认证与授权错误系列 (401xx) ---
	UnauthorizedCode          = 40100 // 通用未授权
	TokenInvalidCode          = 40101 // Token 无效或过期
	InvalidCredentialsCode    = 40102 // 用户名或密码错误
	ShareAuthRequiredCode     = 40103 // 分享链接要求登录
	SharePasswordRequiredCode = 40104 // 分享链接需要密码

	// --- 权限错误系列 (403xx) ---
	ForbiddenCode         = 40300 // 通用无权限
	PermissionDeniedCode  = 40301 // 权限不足 (细分)
	ShareAccessDeniedCode = 40302 // 分享链接拒绝访问（密码错误或非指定用户）

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode           = 40400 // 通用资源未找到
	UserNotFoundCode       = 40401 // 用户不存在
	FileNotFoundCode       = 40402 // 文件不存在
	ShareNotFoundCode      = 40404 // 分享链接不存在或已失效
	PermissionNotFoundCode = 40405 // 授权记录不存在

	// --- 业务逻辑冲突系列 (409xx) ---
	UserAlreadyExistsCode  = 40900 // 用户名已存在
	EmailAlreadyExistsCode = 40901 // 邮箱已存在

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	DatabaseErrorCode       = 50001 // 数据库操作失败
	StorageErrorCode        = 50002 // 存储服务操作失败
	MQErrorCode             = 50003 // 消息队列操作失败

	// --- 服务暂不可用系列 (503xx)，调用方可重试 ---
	ServiceUnavailableCode = 50300
	ContentionCode         = 50301 // 并发提交冲突
)
