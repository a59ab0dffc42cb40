package models

import "fmt"

// Principal 发起请求的身份。匿名访问时为 nil
type Principal struct {
	UserID uint64
	Email  string
	Role   string
}

// IsAdmin 是否管理员
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Actor 审计日志中记录的操作者标识
func (p *Principal) Actor() string {
	if p == nil {
		return "anonymous"
	}
	return fmt.Sprintf("user:%d", p.UserID)
}
