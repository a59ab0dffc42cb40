package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/3Eeeecho/go-filevault/cmd/server"
	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"github.com/3Eeeecho/go-filevault/internal/services/admin"
	"github.com/3Eeeecho/go-filevault/internal/setup"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string

	adminUsername string
	adminEmail    string
	adminPassword string
)

var rootCmd = &cobra.Command{
	Use:   "filevault",
	Short: "FileVault - 安全文件分享服务",
	Long: `FileVault 提供文件上传、按用户授权以及可控的分享链接
(有效期、下载次数、密码、登录要求、指定用户)。

不带子命令时等同于 "filevault serve"。`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务与后台 Worker",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "迁移数据库表结构，可选创建管理员账号",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认查找 ./config.yaml、./configs/config.yaml)")

	migrateCmd.Flags().StringVar(&adminUsername, "admin-username", "", "迁移后确保存在的管理员用户名")
	migrateCmd.Flags().StringVar(&adminEmail, "admin-email", "", "管理员邮箱")
	migrateCmd.Flags().StringVar(&adminPassword, "admin-password", "", "管理员密码")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

// bootstrap 加载配置并初始化日志系统
func bootstrap() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置出错: %w", err)
	}

	//初始化日志系统
	for _, p := range []string{cfg.Log.OutputPath, cfg.Log.ErrorPath} {
		if err = os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("初始化日志系统失败: %w", err)
		}
	}
	logger.InitLogger(cfg.Log.OutputPath, cfg.Log.ErrorPath, cfg.Log.Level)
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync() // 确保在应用退出时刷新所有缓冲的日志条目

	// 统一的日志输出
	logger.Info("启动 FileVault 服务...")

	// 创建并构建应用服务器实例
	srv, err := server.NewServer(cfg)
	if err != nil {
		logger.Error("无法启动应用程序", zap.Error(err))
		return err
	}

	// 创建一个通道用于接收停止信号
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动服务器
	srv.Run(context.Background(), stopChan)

	logger.Info("FileVault 服务已退出。")
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := setup.OpenDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	defer setup.CloseDatabase(db)

	if err := setup.AutoMigrate(db); err != nil {
		return err
	}

	if adminUsername == "" {
		return nil
	}
	if adminEmail == "" || adminPassword == "" {
		return fmt.Errorf("--admin-email 与 --admin-password 必须与 --admin-username 同时提供")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	userRepo := repositories.NewUserRepository(db, cfg.Database.QueryTimeout)
	authService := admin.NewAuthService(userRepo, cfg)
	user, err := authService.EnsureAdmin(ctx, adminUsername, adminPassword, adminEmail)
	if err != nil {
		return fmt.Errorf("创建管理员失败: %w", err)
	}
	logger.Info("管理员账号已就绪", zap.Uint64("userID", user.ID), zap.String("username", user.Username))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
