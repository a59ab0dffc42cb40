package setup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/storage"
)

// InitStorage 初始化配置选择的存储服务并确保存储桶存在
func InitStorage(cfg *config.Config, m *metrics.Metrics) storage.StorageService {
	svc, err := storage.NewStorageService(cfg, m)
	if err != nil {
		logger.Fatal("初始化存储服务失败", zap.String("type", cfg.Storage.Type), zap.Error(err))
	}
	if err := ensureBucket(svc, cfg.BucketName()); err != nil {
		logger.Fatal("初始化存储桶失败", zap.String("type", cfg.Storage.Type), zap.Error(err))
	}
	logger.Info("存储服务已选择并初始化", zap.String("type", cfg.Storage.Type))
	return svc
}

func ensureBucket(svc storage.StorageService, bucketName string) error {
	// 为外部调用使用带超时的上下文
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := svc.IsBucketExist(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶存在性失败: %w", err)
	}
	if exists {
		logger.Info("存储桶已存在", zap.String("bucketName", bucketName))
		return nil
	}

	logger.Info("存储桶不存在，尝试创建...", zap.String("bucketName", bucketName))
	if err := svc.MakeBucket(ctx, bucketName); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	return nil
}
