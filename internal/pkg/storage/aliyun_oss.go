package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"go.uber.org/zap"
)

type AliyunOSSStorageService struct {
	client *oss.Client
	cfg    *config.AliyunOSSConfig // 阿里云OSS的配置信息
}

var _ StorageService = (*AliyunOSSStorageService)(nil)

// NewAliyunOSSStorageService 创建并返回一个 AliyunOSSStorageService 实例
func NewAliyunOSSStorageService(cfg *config.AliyunOSSConfig) (*AliyunOSSStorageService, error) {
	// OSS Endpoint 应该包含 http:// 或 https:// 前缀
	ossClient, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		logger.Error("初始化阿里云OSS客户端失败", zap.Error(err))
		return nil, fmt.Errorf("无法初始化阿里云OSS客户端: %w", err)
	}
	logger.Info("阿里云OSS客户端初始化成功", zap.String("endpoint", cfg.Endpoint))
	return &AliyunOSSStorageService{
		client: ossClient,
		cfg:    cfg,
	}, nil
}

// PutObject OSS SDK 不接收 context，取消由 oss.WithContext 传递
func (s *AliyunOSSStorageService) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	var respHeader http.Header
	err = bucket.PutObject(objectName, reader,
		oss.ContentType(contentType),
		oss.WithContext(ctx),
		oss.GetResponseHeader(&respHeader),
	)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("阿里云OSS上传文件失败: %w", err)
	}

	return PutObjectResult{
		Bucket: bucketName,
		Key:    objectName,
		Size:   objectSize,
		ETag:   respHeader.Get(oss.HTTPHeaderEtag),
	}, nil
}

func (s *AliyunOSSStorageService) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return GetObjectResult{}, fmt.Errorf("获取OSS存储桶失败: %w", err)
	}

	var respHeader http.Header
	reader, err := bucket.GetObject(objectName, oss.WithContext(ctx), oss.GetResponseHeader(&respHeader))
	if err != nil {
		if isOSSNotFound(err) {
			return GetObjectResult{}, xerr.ErrObjectNotFound
		}
		return GetObjectResult{}, fmt.Errorf("阿里云OSS获取文件失败: %w", err)
	}

	size := int64(-1)
	if val := respHeader.Get(oss.HTTPHeaderContentLength); val != "" {
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			size = n
		}
	}

	return GetObjectResult{
		Reader:   reader,
		Size:     size,
		MimeType: respHeader.Get(oss.HTTPHeaderContentType),
	}, nil
}

func (s *AliyunOSSStorageService) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	bucket, err := s.client.Bucket(bucketName)
	if err != nil {
		return fmt.Errorf("获取OSS存储桶失败: %w", err)
	}
	if err := bucket.DeleteObject(objectName, oss.WithContext(ctx)); err != nil {
		return fmt.Errorf("阿里云OSS删除文件失败: %w", err)
	}
	return nil
}

func (s *AliyunOSSStorageService) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	found, err := s.client.IsBucketExist(bucketName)
	if err != nil {
		return false, fmt.Errorf("检查阿里云OSS存储桶存在性失败: %w", err)
	}
	return found, nil
}

func (s *AliyunOSSStorageService) MakeBucket(ctx context.Context, bucketName string) error {
	// 分享文件只允许经由后端下载，桶保持私有
	err := s.client.CreateBucket(bucketName, oss.ACL(oss.ACLPrivate))
	if err != nil {
		var ossErr oss.ServiceError
		if errors.As(err, &ossErr) && (ossErr.Code == "BucketAlreadyExists" || ossErr.Code == "BucketAlreadyOwnedByYou") {
			logger.Info("阿里云OSS存储桶已存在，无需创建", zap.String("bucket", bucketName))
			return nil
		}
		return fmt.Errorf("创建阿里云OSS存储桶失败: %w", err)
	}
	logger.Info("阿里云OSS存储桶创建成功", zap.String("bucket", bucketName))
	return nil
}

func isOSSNotFound(err error) bool {
	var ossErr oss.ServiceError
	if errors.As(err, &ossErr) {
		return ossErr.Code == "NoSuchKey" || ossErr.StatusCode == http.StatusNotFound
	}
	return false
}
