package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowStorage 在 GetObject/PutObject 时阻塞直到 ctx 结束
type slowStorage struct {
	*MemoryStorageService
	delay time.Duration
}

func (s *slowStorage) GetObject(ctx context.Context, bucketName, objectName string) (GetObjectResult, error) {
	select {
	case <-time.After(s.delay):
		return s.MemoryStorageService.GetObject(ctx, bucketName, objectName)
	case <-ctx.Done():
		return GetObjectResult{}, ctx.Err()
	}
}

func (s *slowStorage) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, size int64, contentType string) (PutObjectResult, error) {
	select {
	case <-time.After(s.delay):
		return s.MemoryStorageService.PutObject(ctx, bucketName, objectName, reader, size, contentType)
	case <-ctx.Done():
		return PutObjectResult{}, ctx.Err()
	}
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorageService()

	_, err := s.PutObject(ctx, "bucket", "a.txt", bytes.NewReader([]byte("hello")), 5, "text/plain")
	require.NoError(t, err)

	res, err := s.GetObject(ctx, "bucket", "a.txt")
	require.NoError(t, err)
	defer res.Reader.Close()
	data, err := io.ReadAll(res.Reader)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "text/plain", res.MimeType)

	require.NoError(t, s.RemoveObject(ctx, "bucket", "a.txt"))
	_, err = s.GetObject(ctx, "bucket", "a.txt")
	assert.True(t, errors.Is(err, xerr.ErrObjectNotFound))
}

func TestTimeoutStorageGetTimesOut(t *testing.T) {
	backend := &slowStorage{MemoryStorageService: NewMemoryStorageService(), delay: time.Second}
	s := WithTimeout(backend, 20*time.Millisecond, nil)

	_, err := s.GetObject(context.Background(), "bucket", "missing")
	assert.True(t, errors.Is(err, xerr.ErrStorageUnavailable))
}

func TestTimeoutStoragePutTimesOut(t *testing.T) {
	backend := &slowStorage{MemoryStorageService: NewMemoryStorageService(), delay: time.Second}
	s := WithTimeout(backend, 20*time.Millisecond, nil)

	_, err := s.PutObject(context.Background(), "bucket", "k", bytes.NewReader(nil), 0, "")
	assert.True(t, errors.Is(err, xerr.ErrStorageUnavailable))
}

func TestTimeoutStorageStreamOutlivesOpenTimeout(t *testing.T) {
	backend := NewMemoryStorageService()
	_, err := backend.PutObject(context.Background(), "bucket", "k", bytes.NewReader([]byte("payload")), 7, "")
	require.NoError(t, err)

	s := WithTimeout(backend, 20*time.Millisecond, nil)
	res, err := s.GetObject(context.Background(), "bucket", "k")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	data, err := io.ReadAll(res.Reader)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
	assert.NoError(t, res.Reader.Close())
}

func TestTimeoutStorageKeepsNotFound(t *testing.T) {
	s := WithTimeout(NewMemoryStorageService(), time.Second, nil)
	_, err := s.GetObject(context.Background(), "bucket", "missing")
	assert.True(t, errors.Is(err, xerr.ErrObjectNotFound))
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "files/7/abc/report.pdf", ObjectName(7, "abc", "../../report.pdf"))
}
