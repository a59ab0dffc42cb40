package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	StatusDeleted  = 0 // 已删除 (软删除)
	StatusNormal   = 1 // 正常
	StatusDeleting = 3 // 待删除 (进入异步删除队列)
)

// File 对应 files 表
type File struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	UUID      string         `gorm:"type:varchar(36);unique;not null" json:"uuid"` // 文件在对象存储中的唯一标识
	UserID    uint64         `gorm:"not null;index" json:"user_id"`                // 所有者
	FileName  string         `gorm:"type:varchar(255);not null" json:"filename"`
	Size      uint64         `gorm:"not null;default:0" json:"size"`
	MimeType  *string        `gorm:"type:varchar(128);default:null" json:"mime_type"`
	OssBucket *string        `gorm:"type:varchar(64);default:null" json:"oss_bucket"`
	OssKey    *string        `gorm:"type:varchar(255);default:null" json:"oss_key"`
	Status    uint8          `gorm:"not null;default:1" json:"status"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (File) TableName() string {
	return "files"
}

// Available 文件处于正常状态且有对象存储位置
func (f *File) Available() bool {
	return f != nil && f.Status == StatusNormal && f.OssKey != nil && *f.OssKey != ""
}

// Bucket 文件所在存储桶，记录里没有时使用 fallback
func (f *File) Bucket(fallback string) string {
	if f.OssBucket != nil && *f.OssBucket != "" {
		return *f.OssBucket
	}
	return fallback
}
