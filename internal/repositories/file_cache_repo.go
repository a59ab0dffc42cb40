package repositories

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/cache"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/mapper"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"go.uber.org/zap"
)

// cachedFileRepository 在数据库实现外包一层 Redis Hash 元数据缓存
// 写操作先落库再失效缓存，缓存故障只记录日志不影响业务
type cachedFileRepository struct {
	next  FileRepository // Next repository in the chain (the db repository)
	cache cache.Cache
}

var _ FileRepository = (*cachedFileRepository)(nil)

// NewCachedFileRepository creates a new cachedFileRepository instance.
func NewCachedFileRepository(next FileRepository, c cache.Cache) FileRepository {
	return &cachedFileRepository{
		next:  next,
		cache: c,
	}
}

func jitteredTTL() time.Duration {
	return cache.CacheTTL + time.Duration(rand.Intn(300))*time.Second
}

func (r *cachedFileRepository) Create(ctx context.Context, file *models.File) error {
	if err := r.next.Create(ctx, file); err != nil {
		return err
	}
	// 清掉可能存在的空值标记
	r.invalidate(ctx, file.ID)
	r.store(ctx, file)
	return nil
}

func (r *cachedFileRepository) FindByID(ctx context.Context, id uint64) (*models.File, error) {
	fileMetadataKey := cache.GenerateFileMetadataKey(id)

	resultMap, err := r.cache.HGetAll(ctx, fileMetadataKey)
	if err == nil {
		if _, ok := resultMap[cache.NotFoundMarker]; ok {
			return nil, xerr.ErrFileNotFound
		}
		file, err := mapper.MapToFile(resultMap)
		if err == nil {
			return file, nil
		}
		logger.Error("FindByID: Failed to map cached hash to models.File", zap.Uint64("id", id), zap.Error(err))
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		logger.Error("FindByID: Error getting file hash from cache", zap.Uint64("id", id), zap.Error(err))
	}

	file, err := r.next.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			// 缓存空值，防止缓存穿透
			_ = r.cache.HSet(ctx, fileMetadataKey, cache.NotFoundMarker, "1")
			_ = r.cache.Expire(ctx, fileMetadataKey, time.Minute)
		}
		return nil, err
	}

	r.store(ctx, file)
	return file, nil
}

func (r *cachedFileRepository) ListByUser(ctx context.Context, userID uint64, page, pageSize int) ([]models.File, int64, error) {
	return r.next.ListByUser(ctx, userID, page, pageSize)
}

func (r *cachedFileRepository) SoftDelete(ctx context.Context, id uint64) error {
	if err := r.next.SoftDelete(ctx, id); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *cachedFileRepository) store(ctx context.Context, file *models.File) {
	key := cache.GenerateFileMetadataKey(file.ID)
	fileMap, err := mapper.FileToMap(file)
	if err != nil {
		logger.Error("Failed to map models.File to hash for caching", zap.Uint64("id", file.ID), zap.Error(err))
		return
	}
	if err := r.cache.HMSet(ctx, key, fileMap); err != nil {
		return
	}
	_ = r.cache.Expire(ctx, key, jitteredTTL())
}

func (r *cachedFileRepository) invalidate(ctx context.Context, id uint64) {
	if err := r.cache.Del(ctx, cache.GenerateFileMetadataKey(id)); err != nil {
		logger.Warn("Failed to invalidate file metadata cache", zap.Uint64("fileID", id), zap.Error(err))
	}
}
