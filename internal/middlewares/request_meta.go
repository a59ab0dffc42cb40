package middlewares

import (
	"github.com/3Eeeecho/go-filevault/internal/services/audit"
	"github.com/gin-gonic/gin"
)

// RequestMeta 把客户端 IP 和 User-Agent 放进请求 context，审计事件会带上它们
func RequestMeta() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := audit.WithRequestMeta(c.Request.Context(), audit.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
