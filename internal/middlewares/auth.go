package middlewares

import (
	"net/http"
	"strings"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// bearerToken 取出 "Bearer <token>" 中的 token，格式不对返回 false
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	return parts[1], true
}

func principalFromClaims(claims *utils.Claims) *models.Principal {
	return &models.Principal{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}
}

func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 从请求头获取 Token
		if c.GetHeader("Authorization") == "" {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "Authorization header is required")
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "Invalid Authorization header format")
			return
		}

		// 2. 解析和验证 Token
		claims, err := utils.ParseToken(tokenString, cfg.JWT.SecretKey)
		if err != nil {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, "Invalid or malformed token")
			return
		}

		// 3. 将用户信息存储到 Gin Context 中，以便后续 Handler 使用
		utils.SetPrincipal(c, principalFromClaims(claims))
		c.Set("username", claims.Username)
		c.Set("email", claims.Email)

		c.Next() // Token 有效，继续处理请求
	}
}

// OptionalAuth 分享链接下载使用：带了合法 token 就识别身份，没带按匿名处理。
// 带了但无效的 token 直接拒绝，避免调用方误以为自己已登录。
func OptionalAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.Next()
			return
		}
		tokenString, ok := bearerToken(c)
		if !ok {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "Invalid Authorization header format")
			return
		}
		claims, err := utils.ParseToken(tokenString, cfg.JWT.SecretKey)
		if err != nil {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.TokenInvalidCode, "Invalid or malformed token")
			return
		}
		utils.SetPrincipal(c, principalFromClaims(claims))
		c.Next()
	}
}

// RequireRole 只允许指定角色访问，需放在 AuthMiddleware 之后
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := utils.GetPrincipal(c)
		if p == nil {
			xerr.AbortWithError(c, http.StatusUnauthorized, xerr.UnauthorizedCode, "authentication required")
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		xerr.AbortWithError(c, http.StatusForbidden, xerr.ForbiddenCode, "insufficient role")
	}
}
