// Package redis 提供 Redis 缓存实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/pkg/logger"
)

// novelCacheTTL 小说详情缓存时长
// 小说生成后基本只读，手动重试单章时显式失效。
const novelCacheTTL = 10 * time.Minute

// errNovelMissing 哨兵错误：库里也没有，不缓存 nil 结果
var errNovelMissing = errors.New("novel not found")

// CachedNovelRepository 带读穿缓存的小说仓储装饰器
type CachedNovelRepository struct {
	inner repository.NovelRepository
	cache *Cache
}

// NewCachedNovelRepository 创建缓存装饰器
func NewCachedNovelRepository(inner repository.NovelRepository, cache *Cache) *CachedNovelRepository {
	return &CachedNovelRepository{inner: inner, cache: cache}
}

func novelCacheKey(id string) string {
	return "novel:detail:" + id
}

// Create 保存小说，写路径直接穿透
func (r *CachedNovelRepository) Create(ctx context.Context, novel *entity.Novel) error {
	return r.inner.Create(ctx, novel)
}

// GetByID 读穿缓存，未命中时回源并回填
// 不存在的小说不缓存，避免生成完成前的查询把"不存在"钉住。
func (r *CachedNovelRepository) GetByID(ctx context.Context, id string) (*entity.Novel, error) {
	key := novelCacheKey(id)

	data, err := r.cache.GetOrLoad(ctx, key, novelCacheTTL, func() (interface{}, error) {
		novel, err := r.inner.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if novel == nil {
			return nil, errNovelMissing
		}
		return novel, nil
	})
	if err != nil {
		if errors.Is(err, errNovelMissing) {
			return nil, nil
		}
		return nil, err
	}

	var novel entity.Novel
	if err := json.Unmarshal(data, &novel); err != nil {
		// 缓存内容损坏，删掉回源
		logger.Warn(ctx, "corrupt novel cache entry, falling back to database",
			"key", key, "error", err.Error())
		if err := r.cache.Delete(ctx, key); err != nil {
			logger.Warn(ctx, "failed to drop corrupt novel cache", "key", key, "error", err.Error())
		}
		return r.inner.GetByID(ctx, id)
	}
	return &novel, nil
}

// List 列表不缓存，分页组合太多命中率低
func (r *CachedNovelRepository) List(ctx context.Context, pagination repository.Pagination) (*repository.PagedResult[*entity.Novel], error) {
	return r.inner.List(ctx, pagination)
}

// UpdateCover 更新封面并失效缓存
func (r *CachedNovelRepository) UpdateCover(ctx context.Context, id string, coverURL string) error {
	if err := r.inner.UpdateCover(ctx, id, coverURL); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// ReplaceChapter 替换章节并失效所属小说缓存
func (r *CachedNovelRepository) ReplaceChapter(ctx context.Context, chapter *entity.Chapter) error {
	if err := r.inner.ReplaceChapter(ctx, chapter); err != nil {
		return err
	}
	r.invalidate(ctx, chapter.NovelID)
	return nil
}

func (r *CachedNovelRepository) invalidate(ctx context.Context, id string) {
	if err := r.cache.Delete(ctx, novelCacheKey(id)); err != nil {
		logger.Warn(ctx, "failed to invalidate novel cache", "novel_id", id, "error", err.Error())
	}
}
