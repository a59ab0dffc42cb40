package models

// AllModels 返回需要自动迁移的全部模型
func AllModels() []any {
	return []any{
		&User{},
		&File{},
		&ShareGrant{},
		&FilePermission{},
		&AuditLog{},
	}
}
