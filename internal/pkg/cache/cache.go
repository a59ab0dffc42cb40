package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CacheTTL 元数据缓存的基础过期时间，写入时再叠加随机抖动防止同时失效
const CacheTTL = 10 * time.Minute

// NotFoundMarker 防缓存穿透的空值标记
const NotFoundMarker = "__NOT_FOUND__"

// 缓存通用接口
type Cache interface {
	// Set在缓存中设置一个值，并指定过期时间。
	// value应该是一个可以被JSON封送的结构体或指向结构体的指针。
	Set(ctx context.Context, key string, value any, expiration time.Duration) error

	// Get从缓存中检索一个值，并将其解编组到目标接口。
	// target应该是一个指针，指向希望解编组成的类型。
	Get(ctx context.Context, key string, target any) error

	// 删除一个或多个key
	Del(ctx context.Context, keys ...string) error

	// 检查key是否存在
	Exists(ctx context.Context, key string) (bool, error)

	// 哈希操作函数
	HSet(ctx context.Context, key string, field string, value any) error
	HMSet(ctx context.Context, key string, fields map[string]any) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Expire(ctx context.Context, key string, expiration time.Duration) error

	// 审计事件写入的 Stream
	XAdd(ctx context.Context, a *redis.XAddArgs) (string, error)
}

func GenerateFileMetadataKey(fileID uint64) string {
	return fmt.Sprintf("file:metadata:%d", fileID)
}
