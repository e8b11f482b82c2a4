// Package repository 定义数据访问层接口
package repository

import (
	"context"

	"storyforge-api/internal/domain/entity"
)

// NovelRepository 小说仓储接口
type NovelRepository interface {
	// Create 保存小说及其全部章节
	Create(ctx context.Context, novel *entity.Novel) error
	// GetByID 获取小说（含按序章节），不存在时返回 (nil, nil)
	GetByID(ctx context.Context, id string) (*entity.Novel, error)
	// List 分页列出小说（不含章节正文）
	List(ctx context.Context, pagination Pagination) (*PagedResult[*entity.Novel], error)
	// UpdateCover 更新封面地址
	UpdateCover(ctx context.Context, id string, coverURL string) error
	// ReplaceChapter 替换单个章节（手动重试成功后）
	ReplaceChapter(ctx context.Context, chapter *entity.Chapter) error
}
