package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

// S3StorageService 基于 aws-sdk-go-v2 的存储实现，兼容 MinIO 等 S3 协议服务
type S3StorageService struct {
	client *s3.Client
	cfg    *config.S3Config
}

var _ StorageService = (*S3StorageService)(nil)

func NewS3StorageService(ctx context.Context, cfg *config.S3Config) (*S3StorageService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		logger.Error("加载 AWS 配置失败", zap.Error(err))
		return nil, fmt.Errorf("无法加载 AWS 配置: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.BaseEndpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("S3 客户端初始化成功", zap.String("region", cfg.Region), zap.String("endpoint", cfg.BaseEndpoint))
	return &S3StorageService{client: client, cfg: cfg}, nil
}

func (s *S3StorageService) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucketName),
		Key:           aws.String(objectName),
		Body:          reader,
		ContentLength: aws.Int64(objectSize),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("S3 上传文件失败: %w", err)
	}
	return PutObjectResult{
		Bucket: bucketName,
		Key:    objectName,
		Size:   objectSize,
		ETag:   aws.ToString(out.ETag),
	}, nil
}

func (s *S3StorageService) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectName),
	})
	if err != nil {
		if isS3NotFound(err) {
			return GetObjectResult{}, xerr.ErrObjectNotFound
		}
		return GetObjectResult{}, fmt.Errorf("S3 获取文件失败: %w", err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return GetObjectResult{
		Reader:   out.Body,
		Size:     size,
		MimeType: aws.ToString(out.ContentType),
	}, nil
}

func (s *S3StorageService) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(objectName),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("S3 删除文件失败: %w", err)
	}
	return nil
}

func (s *S3StorageService) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucketName)})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("检查 S3 存储桶存在性失败: %w", err)
	}
	return true, nil
}

func (s *S3StorageService) MakeBucket(ctx context.Context, bucketName string) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			logger.Info("S3 存储桶已存在，无需创建", zap.String("bucket", bucketName))
			return nil
		}
		return fmt.Errorf("创建 S3 存储桶失败: %w", err)
	}
	logger.Info("S3 存储桶创建成功", zap.String("bucket", bucketName))
	return nil
}

func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket" || code == "404" {
			return true
		}
	}

	return strings.Contains(err.Error(), "StatusCode: 404")
}
