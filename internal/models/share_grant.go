package models

import (
	"time"
)

// ShareGrant 对应 share_grants 表，分享链接背后的访问凭证
// 记录只会被撤销或自然过期，不做物理删除
type ShareGrant struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Token            string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	FileID           uint64    `gorm:"not null;index" json:"file_id"`
	OwnerID          uint64    `gorm:"not null;index" json:"owner_id"`
	ExpiresAt        time.Time `gorm:"not null;index" json:"expires_at"`
	MaxDownloads     *int64    `gorm:"default:null" json:"max_downloads"` // nil 表示不限次数
	DownloadCount    int64     `gorm:"not null;default:0" json:"download_count"`
	PasswordHash     *string   `gorm:"type:varchar(255);default:null" json:"-"`
	RequiresAuth     bool      `gorm:"not null;default:false" json:"requires_auth"`
	AllowedPrincipal *string   `gorm:"type:varchar(255);default:null" json:"allowed_principal"`
	IsActive         bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt        time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	File *File `gorm:"foreignKey:FileID" json:"-"`
}

// TableName 指定 GORM 使用的表名
func (ShareGrant) TableName() string {
	return "share_grants"
}

// HasPassword 是否设置了提取密码
func (g *ShareGrant) HasPassword() bool {
	return g.PasswordHash != nil && *g.PasswordHash != ""
}

// QuotaExhausted 下载次数是否已用完
func (g *ShareGrant) QuotaExhausted() bool {
	return g.MaxDownloads != nil && g.DownloadCount >= *g.MaxDownloads
}

// Redeemable 不考虑文件与身份约束时的可兑换状态
func (g *ShareGrant) Redeemable(now time.Time) bool {
	return g.IsActive && now.Before(g.ExpiresAt) && !g.QuotaExhausted()
}
