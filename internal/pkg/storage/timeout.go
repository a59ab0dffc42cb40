package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/metrics"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
)

// timeoutStorage 为每次对象存储调用加上超时并记录指标。
// 超时或连接失败统一转换为 xerr.ErrStorageUnavailable，调用方可重试。
type timeoutStorage struct {
	next    StorageService
	timeout time.Duration
	metrics *metrics.Metrics
}

// WithTimeout 包装存储后端，timeout <= 0 时不限制
func WithTimeout(next StorageService, timeout time.Duration, m *metrics.Metrics) StorageService {
	return &timeoutStorage{next: next, timeout: timeout, metrics: m}
}

func (s *timeoutStorage) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *timeoutStorage) observe(op string, start time.Time, err error) {
	s.metrics.RecordStorage(op, time.Since(start).Seconds(), err)
}

func (s *timeoutStorage) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, contentType string) (PutObjectResult, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()
	res, err := s.next.PutObject(ctx, bucketName, objectName, reader, objectSize, contentType)
	s.observe("put", start, err)
	return res, classify(ctx, err)
}

// GetObject 超时只约束打开对象的阶段，读取流的生命周期跟随调用方 ctx，Close 时释放
func (s *timeoutStorage) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	var timedOut bool
	var mu sync.Mutex
	var timer *time.Timer
	if s.timeout > 0 {
		timer = time.AfterFunc(s.timeout, func() {
			mu.Lock()
			timedOut = true
			mu.Unlock()
			cancel()
		})
	}

	start := time.Now()
	res, err := s.next.GetObject(streamCtx, bucketName, objectName)
	if timer != nil {
		timer.Stop()
	}
	s.observe("get", start, err)

	mu.Lock()
	expired := timedOut
	mu.Unlock()
	if expired {
		cancel()
		if res.Reader != nil {
			res.Reader.Close()
		}
		return GetObjectResult{}, fmt.Errorf("打开存储对象超时: %w", xerr.ErrStorageUnavailable)
	}
	if err != nil {
		cancel()
		return GetObjectResult{}, classify(streamCtx, err)
	}

	res.Reader = &cancelOnClose{ReadCloser: res.Reader, cancel: cancel}
	return res, nil
}

func (s *timeoutStorage) RemoveObject(ctx context.Context, bucketName, objectName string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	start := time.Now()
	err := s.next.RemoveObject(ctx, bucketName, objectName)
	s.observe("remove", start, err)
	return classify(ctx, err)
}

func (s *timeoutStorage) IsBucketExist(ctx context.Context, bucketName string) (bool, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	ok, err := s.next.IsBucketExist(ctx, bucketName)
	return ok, classify(ctx, err)
}

func (s *timeoutStorage) MakeBucket(ctx context.Context, bucketName string) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	return classify(ctx, s.next.MakeBucket(ctx, bucketName))
}

// classify 把超时转换成 ErrStorageUnavailable，不存在错误保持原样
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, xerr.ErrObjectNotFound) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", xerr.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %v", xerr.ErrStorageError, err)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.once.Do(c.cancel)
	return err
}
