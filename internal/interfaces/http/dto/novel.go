// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"time"

	"storyforge-api/internal/domain/entity"
)

// GenerateNovelRequest 小说生成请求
type GenerateNovelRequest struct {
	Genre      string `json:"genre" binding:"required,max=50"`
	Style      string `json:"style" binding:"required,max=50"`
	Plot       string `json:"plot" binding:"required,max=5000"`
	Length     string `json:"length" binding:"required,oneof=short medium long"`
	Characters string `json:"characters" binding:"max=5000"`
	WorldNotes string `json:"world_notes" binding:"max=5000"`
}

// ToGenerationRequest 转换为领域请求
func (r *GenerateNovelRequest) ToGenerationRequest() entity.GenerationRequest {
	return entity.GenerationRequest{
		Genre:      r.Genre,
		Style:      r.Style,
		Plot:       r.Plot,
		Length:     entity.LengthClass(r.Length),
		Characters: r.Characters,
		WorldNotes: r.WorldNotes,
	}
}

// RetryChapterRequest 单章重新生成请求
// 大纲的章节概要不落库，重试时由调用方回传。
type RetryChapterRequest struct {
	Summary string `json:"summary" binding:"required,max=5000"`
}

// ChapterResponse 章节响应
type ChapterResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	Order     int       `json:"order"`
	WordCount int       `json:"word_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NovelResponse 小说响应
type NovelResponse struct {
	ID            string             `json:"id"`
	Title         string             `json:"title"`
	Description   string             `json:"description,omitempty"`
	Genre         string             `json:"genre,omitempty"`
	Style         string             `json:"style,omitempty"`
	CoverImageURL string             `json:"cover_image_url,omitempty"`
	WordCount     int                `json:"word_count"`
	Chapters      []*ChapterResponse `json:"chapters,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NovelListResponse 小说列表响应
type NovelListResponse struct {
	Novels []*NovelResponse `json:"novels"`
}

// ChapterAudioResponse 章节配音响应
type ChapterAudioResponse struct {
	NovelID  string `json:"novel_id"`
	Order    int    `json:"order"`
	AudioURL string `json:"audio_url"`
}

// ToChapterResponse 转换章节实体
func ToChapterResponse(chapter *entity.Chapter, withContent bool) *ChapterResponse {
	resp := &ChapterResponse{
		ID:        chapter.ID,
		Title:     chapter.Title,
		Order:     chapter.Order,
		WordCount: chapter.WordCount,
		CreatedAt: chapter.CreatedAt,
	}
	if withContent {
		resp.Content = chapter.Content
	}
	return resp
}

// ToNovelResponse 转换小说实体，含章节正文
func ToNovelResponse(novel *entity.Novel) *NovelResponse {
	resp := &NovelResponse{
		ID:            novel.ID,
		Title:         novel.Title,
		Description:   novel.Description,
		Genre:         novel.Genre,
		Style:         novel.Style,
		CoverImageURL: novel.CoverImageURL,
		WordCount:     novel.TotalWordCount(),
		CreatedAt:     novel.CreatedAt,
		UpdatedAt:     novel.UpdatedAt,
	}
	for i := range novel.Chapters {
		resp.Chapters = append(resp.Chapters, ToChapterResponse(&novel.Chapters[i], true))
	}
	return resp
}

// ToNovelSummaryResponse 转换小说实体，不带章节
func ToNovelSummaryResponse(novel *entity.Novel) *NovelResponse {
	return &NovelResponse{
		ID:            novel.ID,
		Title:         novel.Title,
		Description:   novel.Description,
		Genre:         novel.Genre,
		Style:         novel.Style,
		CoverImageURL: novel.CoverImageURL,
		WordCount:     novel.TotalWordCount(),
		CreatedAt:     novel.CreatedAt,
		UpdatedAt:     novel.UpdatedAt,
	}
}

// ToNovelListResponse 转换小说列表
func ToNovelListResponse(novels []*entity.Novel) *NovelListResponse {
	resp := &NovelListResponse{Novels: make([]*NovelResponse, 0, len(novels))}
	for _, novel := range novels {
		resp.Novels = append(resp.Novels, ToNovelSummaryResponse(novel))
	}
	return resp
}
