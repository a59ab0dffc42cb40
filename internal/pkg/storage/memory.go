package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStorageService 进程内存储，用于本地开发与测试
type MemoryStorageService struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memoryObject
}

var _ StorageService = (*MemoryStorageService)(nil)

func NewMemoryStorageService() *MemoryStorageService {
	return &MemoryStorageService{buckets: make(map[string]map[string]memoryObject)}
}

func (s *MemoryStorageService) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return PutObjectResult{}, fmt.Errorf("读取上传内容失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[bucketName]
	if !ok {
		bucket = make(map[string]memoryObject)
		s.buckets[bucketName] = bucket
	}
	bucket[objectName] = memoryObject{data: data, contentType: contentType}
	return PutObjectResult{Bucket: bucketName, Key: objectName, Size: int64(len(data))}, nil
}

func (s *MemoryStorageService) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	if err := ctx.Err(); err != nil {
		return GetObjectResult{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucketName][objectName]
	if !ok {
		return GetObjectResult{}, xerr.ErrObjectNotFound
	}
	return GetObjectResult{
		Reader:   io.NopCloser(bytes.NewReader(obj.data)),
		Size:     int64(len(obj.data)),
		MimeType: obj.contentType,
	}, nil
}

func (s *MemoryStorageService) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucketName], objectName)
	return nil
}

func (s *MemoryStorageService) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucketName]
	return ok, nil
}

func (s *MemoryStorageService) MakeBucket(ctx context.Context, bucketName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucketName]; !ok {
		s.buckets[bucketName] = make(map[string]memoryObject)
	}
	return nil
}

// Has 对象是否存在
func (s *MemoryStorageService) Has(bucketName, objectName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[bucketName][objectName]
	return ok
}
