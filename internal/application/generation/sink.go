package generation

import (
	"storyforge-api/internal/domain/entity"
)

// ProgressSink 流水线进度回调
// 所有回调都在流水线自己的 goroutine 里按序触发：
// 章节事件严格按章节序号升序，不会乱序。
type ProgressSink interface {
	// OnStage 阶段切换
	OnStage(stage entity.PipelineStage)
	// OnOutlineUpdate 大纲阶段实时文本（累积全文）
	OnOutlineUpdate(text string)
	// OnOutlineReady 大纲解析完成
	OnOutlineReady(outline *entity.Outline)
	// OnChapterUpdate 单章实时文本（累积全文）
	OnChapterUpdate(index int, text string)
	// OnChapterStatus 单章状态变化（含重试计数）
	OnChapterStatus(status entity.ChapterGenStatus)
	// OnChapterComplete 单章完成
	OnChapterComplete(chapter *entity.Chapter)
}

// NopSink 丢弃所有进度事件
type NopSink struct{}

func (NopSink) OnStage(entity.PipelineStage)            {}
func (NopSink) OnOutlineUpdate(string)                  {}
func (NopSink) OnOutlineReady(*entity.Outline)          {}
func (NopSink) OnChapterUpdate(int, string)             {}
func (NopSink) OnChapterStatus(entity.ChapterGenStatus) {}
func (NopSink) OnChapterComplete(*entity.Chapter)       {}
