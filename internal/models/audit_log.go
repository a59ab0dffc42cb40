package models

import "time"

// 审计动作
const (
	AuditActionShareCreate      = "share_create"
	AuditActionShareRedeem      = "share_redeem"
	AuditActionShareRevoke      = "share_revoke"
	AuditActionFileUpload       = "file_upload"
	AuditActionFileDownload     = "file_download"
	AuditActionFileDelete       = "file_delete"
	AuditActionPermissionGrant  = "permission_grant"
	AuditActionPermissionRevoke = "permission_revoke"
	AuditActionRoleAssign       = "role_assign"
	AuditActionAdminOverride    = "admin_override"
)

// 审计结果
const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeDenied  = "denied"
	AuditOutcomeFailure = "failure"
)

// AuditLog 对应 audit_logs 表，只追加，不修改也不删除
type AuditLog struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID      string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"event_id"`
	Actor        string    `gorm:"type:varchar(255);not null;index" json:"actor"` // 用户ID 或 anonymous
	Action       string    `gorm:"type:varchar(64);not null;index" json:"action"`
	ResourceType string    `gorm:"type:varchar(32);not null" json:"resource_type"`
	ResourceID   string    `gorm:"type:varchar(64);not null;index" json:"resource_id"`
	FileID       *uint64   `gorm:"index" json:"file_id,omitempty"` // 事件涉及的文件，分享和授权事件也会填写
	Outcome      string    `gorm:"type:varchar(16);not null" json:"outcome"`
	Reason       string    `gorm:"type:varchar(64);default:''" json:"reason,omitempty"`
	Context      string    `gorm:"type:text" json:"context,omitempty"` // JSON 编码的附加信息
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName 指定 GORM 使用的表名
func (AuditLog) TableName() string {
	return "audit_logs"
}
