// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"storyforge-api/internal/domain/entity"
)

// SSE 事件名
const (
	EventStage         = "stage"
	EventOutlineDelta  = "outline_delta"
	EventOutlineReady  = "outline_ready"
	EventChapterDelta  = "chapter_delta"
	EventChapterStatus = "chapter_status"
	EventChapterDone   = "chapter_done"
	EventComplete      = "complete"
	EventError         = "error"
)

// StageEvent 阶段切换事件
type StageEvent struct {
	Stage string `json:"stage"`
}

// OutlineDeltaEvent 大纲实时文本事件，text 为累积全文
type OutlineDeltaEvent struct {
	Text string `json:"text"`
}

// OutlineChapterEvent 大纲章节条目
type OutlineChapterEvent struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Order   int    `json:"order"`
}

// OutlineReadyEvent 大纲解析完成事件
type OutlineReadyEvent struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description,omitempty"`
	Chapters    []*OutlineChapterEvent `json:"chapters"`
}

// ChapterDeltaEvent 单章实时文本事件，text 为累积全文
type ChapterDeltaEvent struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ChapterStatusEvent 单章状态事件
type ChapterStatusEvent struct {
	Index      int    `json:"index"`
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error,omitempty"`
}

// ChapterDoneEvent 单章完成事件
type ChapterDoneEvent struct {
	Chapter *ChapterResponse `json:"chapter"`
}

// CompleteEvent 流水线完成事件
type CompleteEvent struct {
	Novel *NovelResponse `json:"novel"`
}

// ErrorEvent 流水线失败事件
type ErrorEvent struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// ToOutlineReadyEvent 转换大纲实体
func ToOutlineReadyEvent(outline *entity.Outline) *OutlineReadyEvent {
	ev := &OutlineReadyEvent{
		Title:       outline.Title,
		Description: outline.Description,
		Chapters:    make([]*OutlineChapterEvent, 0, len(outline.Chapters)),
	}
	for _, ch := range outline.Chapters {
		ev.Chapters = append(ev.Chapters, &OutlineChapterEvent{
			Title:   ch.Title,
			Summary: ch.Summary,
			Order:   ch.Order,
		})
	}
	return ev
}
