package router

import (
	"net/http"

	_ "github.com/3Eeeecho/go-filevault/docs"
	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/handlers"
	"github.com/3Eeeecho/go-filevault/internal/middlewares"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// RouterConfig 包含初始化路由所需的所有依赖
type RouterConfig struct {
	AuthHandler  *handlers.AuthHandler
	UserHandler  *handlers.UserHandler
	FileHandler  *handlers.FileHandler
	ShareHandler *handlers.ShareHandler
	AuditHandler *handlers.AuditHandler
	Gatherer     prometheus.Gatherer // 为 nil 时不暴露 /metrics
	Config       *config.Config
}

func InitRouter(rc *RouterConfig) *gin.Engine {
	cfg := rc.Config
	// 设置 Gin 模式，开发环境为 DebugMode，生产环境为 ReleaseMode
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	// 与 gin.Default 相同的 Logger + Recovery，访问日志不记录分享链接的查询串
	router := gin.New()
	router.Use(middlewares.AccessLogger(gin.DefaultWriter), gin.Recovery())

	// 全局中间件
	router.Use(middlewares.RequestMeta())

	// Health Check 路由
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	if cfg.Metrics.Enabled && rc.Gatherer != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{})))
	}

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 分享链接 (匿名可访问，带 token 时识别身份)
	shareLink := router.Group("/share/:token")
	{
		shareLink.GET("/info", rc.ShareHandler.GetShareInfo)
		shareLink.GET("/download", middlewares.OptionalAuth(cfg), rc.ShareHandler.DownloadShared)
		shareLink.POST("/download", middlewares.OptionalAuth(cfg), rc.ShareHandler.DownloadShared)
	}

	v1 := router.Group("/api/v1")
	{
		// 认证相关路由 (无需认证)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", rc.AuthHandler.Register)
			authGroup.POST("/login", rc.AuthHandler.Login)
		}

		// 需要认证的路由组
		authenticated := v1.Group("")
		authenticated.Use(middlewares.AuthMiddleware(cfg))

		// 用户相关路由
		userGroup := authenticated.Group("/users")
		{
			userGroup.GET("/me", rc.UserHandler.GetUserProfile)
			userGroup.GET("", middlewares.RequireRole(models.RoleAdmin), rc.UserHandler.ListUsers)
			userGroup.PUT("/:id/role", middlewares.RequireRole(models.RoleAdmin), rc.UserHandler.AssignRole)
		}

		// 文件相关路由
		fileGroup := authenticated.Group("/files")
		{
			fileGroup.GET("", rc.FileHandler.ListUserFiles)
			fileGroup.POST("/upload", middlewares.RequireRole(models.RoleAdmin, models.RoleUser), rc.FileHandler.UploadFile)
			fileGroup.GET("/shared-with-me", rc.FileHandler.ListSharedWithMe)
			fileGroup.GET("/:file_id", rc.FileHandler.GetFile)
			fileGroup.DELETE("/:file_id", rc.FileHandler.DeleteFile)
			fileGroup.GET("/:file_id/download", rc.FileHandler.DownloadFile)
			fileGroup.POST("/:file_id/permissions", rc.FileHandler.GrantPermission)
			fileGroup.GET("/:file_id/permissions", rc.FileHandler.ListPermissions)
			fileGroup.DELETE("/:file_id/permissions/:user_id", rc.FileHandler.RevokePermission)
		}

		// 分享管理路由
		shareGroup := authenticated.Group("/shares")
		{
			shareGroup.POST("", rc.ShareHandler.CreateShare)
			shareGroup.GET("/my", rc.ShareHandler.ListUserShares)
			shareGroup.DELETE("/:share_id", rc.ShareHandler.RevokeShare)
			shareGroup.DELETE("/token/:token", rc.ShareHandler.RevokeShareByToken)
		}

		// 审计日志: 本人记录对所有登录用户开放，其余仅管理员
		auditGroup := authenticated.Group("/audit")
		{
			auditGroup.GET("/my-activity", rc.AuditHandler.ListMyActivity)
			auditGroup.GET("", middlewares.RequireRole(models.RoleAdmin), rc.AuditHandler.ListAuditLogs)
			auditGroup.GET("/file/:file_id", middlewares.RequireRole(models.RoleAdmin), rc.AuditHandler.FileHistory)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		xerr.Error(c, http.StatusNotFound, http.StatusNotFound, "Route not found")
	})

	return router
}
