package middlewares

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// sharePathPrefix 下的查询串可能带有凭据，访问日志中不输出
const sharePathPrefix = "/share/"

// AccessLogger 替代 gin.Logger，格式一致，但会去掉分享链接请求的查询串
func AccessLogger(out io.Writer) gin.HandlerFunc {
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    out,
		Formatter: accessLogFormatter,
	})
}

func accessLogFormatter(param gin.LogFormatterParams) string {
	path := param.Path
	if strings.HasPrefix(path, sharePathPrefix) {
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i] + "?[REDACTED]"
		}
	}
	if param.Latency > time.Minute {
		param.Latency = param.Latency.Truncate(time.Second)
	}
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		param.TimeStamp.Format("2006/01/02 - 15:04:05"),
		param.StatusCode,
		param.Latency,
		param.ClientIP,
		param.Method,
		path,
		param.ErrorMessage,
	)
}
