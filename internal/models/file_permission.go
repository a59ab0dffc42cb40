package models

import "time"

// FilePermission 对应 file_permissions 表，文件的持久化授权记录
type FilePermission struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FileID      uint64    `gorm:"not null;uniqueIndex:idx_file_principal" json:"file_id"`
	PrincipalID uint64    `gorm:"not null;uniqueIndex:idx_file_principal;index" json:"principal_id"`
	GrantedBy   uint64    `gorm:"not null" json:"granted_by"`
	CanDownload bool      `gorm:"not null;default:true" json:"can_download"`
	CanShare    bool      `gorm:"not null;default:false" json:"can_share"`
	Revocable   bool      `gorm:"not null;default:true" json:"revocable"`
	GrantedAt   time.Time `gorm:"not null" json:"granted_at"`

	File *File `gorm:"foreignKey:FileID" json:"file,omitempty"`
}

// TableName 指定 GORM 使用的表名
func (FilePermission) TableName() string {
	return "file_permissions"
}
