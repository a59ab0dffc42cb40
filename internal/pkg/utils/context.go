package utils

import (
	"net/http"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// SetPrincipal 认证中间件把解析出的身份写入上下文
func SetPrincipal(c *gin.Context, p *models.Principal) {
	c.Set(principalKey, p)
	c.Set("userID", p.UserID)
}

// GetPrincipal 读取当前请求的身份，匿名请求返回 nil
func GetPrincipal(c *gin.Context) *models.Principal {
	v, exists := c.Get(principalKey)
	if !exists {
		return nil
	}
	p, _ := v.(*models.Principal)
	return p
}

// GetUserIDFromContext 从 Gin 上下文中获取并验证用户ID
// 如果获取失败或类型不正确，会中止请求并返回错误
func GetUserIDFromContext(c *gin.Context) (uint64, bool) {
	userID, exists := c.Get("userID")
	if !exists {
		xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "User ID not found in context")
		return 0, false
	}
	currentUserID, ok := userID.(uint64)
	if !ok {
		xerr.AbortWithError(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "Invalid user ID type in context")
		return 0, false
	}
	return currentUserID, true
}

// MustPrincipal 需要登录的接口使用，缺失时中止请求
func MustPrincipal(c *gin.Context) (*models.Principal, bool) {
	p := GetPrincipal(c)
	if p == nil {
		xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "authentication required")
		return nil, false
	}
	return p, true
}
