package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/go-redis/redis/v8"
)

// MemoryCache 进程内的 cache.Cache 实现，只在测试中使用
type MemoryCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	hashes  map[string]map[string]string
	Streams map[string][]map[string]any

	// XAddErr 非空时 XAdd 返回该错误
	XAddErr error
}

var _ cache.Cache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		values:  make(map[string][]byte),
		hashes:  make(map[string]map[string]string),
		Streams: make(map[string][]map[string]any),
	}
}

func (m *MemoryCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = b
	return nil
}

func (m *MemoryCache) Get(ctx context.Context, key string, target any) error {
	m.mu.Lock()
	b, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(b, target)
}

func (m *MemoryCache) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
		delete(m.hashes, k)
	}
	return nil
}

func (m *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, v := m.values[key]
	_, h := m.hashes[key]
	return v || h, nil
}

func (m *MemoryCache) HSet(ctx context.Context, key string, field string, value any) error {
	return m.HMSet(ctx, key, map[string]any{field: value})
}

func (m *MemoryCache) HMSet(ctx context.Context, key string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = fmt.Sprint(v)
	}
	return nil
}

func (m *MemoryCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok || len(h) == 0 {
		return nil, cache.ErrCacheMiss
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryCache) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return nil
}

func (m *MemoryCache) XAdd(ctx context.Context, a *redis.XAddArgs) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.XAddErr != nil {
		return "", m.XAddErr
	}
	values, ok := a.Values.(map[string]any)
	if !ok {
		return "", errors.New("unsupported XAdd values type")
	}
	m.Streams[a.Stream] = append(m.Streams[a.Stream], values)
	return fmt.Sprintf("%d-0", len(m.Streams[a.Stream])), nil
}

// StreamLen 返回 stream 中的消息数
func (m *MemoryCache) StreamLen(stream string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Streams[stream])
}
