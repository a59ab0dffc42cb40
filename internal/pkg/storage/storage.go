package storage

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
)

// StorageService 定义了通用的文件存储操作接口
// 对象不存在时 GetObject 返回 xerr.ErrObjectNotFound
type StorageService interface {
	// 上传文件到指定存储桶，返回存储对象的信息或错误
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error)
	// 从指定存储桶下载文件，返回一个读取器和对象信息
	GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error)
	// 从指定存储桶删除文件，对象不存在时不报错
	RemoveObject(ctx context.Context, bucketName, objectName string) error
	// 检查存储桶是否存在
	IsBucketExist(ctx context.Context, bucketName string) (bool, error)
	// 创建存储桶
	MakeBucket(ctx context.Context, bucketName string) error
}

type PutObjectResult struct {
	Bucket string
	Key    string
	Size   int64
	ETag   string // 对象哈希值
}

type GetObjectResult struct {
	Reader   io.ReadCloser // 文件内容读取器，需要在使用后关闭
	Size     int64
	MimeType string
}

// ObjectName 生成文件在对象存储中的 key
func ObjectName(userID uint64, fileUUID, fileName string) string {
	return fmt.Sprintf("files/%d/%s/%s", userID, fileUUID, path.Base(fileName))
}

// NewStorageService 按配置创建存储后端，并套上超时与指标装饰
func NewStorageService(cfg *config.Config, m *metrics.Metrics) (StorageService, error) {
	var (
		backend StorageService
		err     error
	)
	switch cfg.Storage.Type {
	case "minio":
		backend, err = NewMinIOStorageService(&cfg.MinIO)
	case "aliyun_oss":
		backend, err = NewAliyunOSSStorageService(&cfg.AliyunOSS)
	case "s3":
		backend, err = NewS3StorageService(context.Background(), &cfg.S3)
	case "memory":
		backend = NewMemoryStorageService()
	default:
		return nil, fmt.Errorf("invalid storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(backend, cfg.Storage.Timeout, m), nil
}
