// Package entity 定义领域实体
package entity

// ChapterGenState 单章生成状态
type ChapterGenState string

const (
	ChapterGenPending    ChapterGenState = "pending"
	ChapterGenGenerating ChapterGenState = "generating"
	ChapterGenRetrying   ChapterGenState = "retrying"
	ChapterGenSuccess    ChapterGenState = "success"
	ChapterGenFailed     ChapterGenState = "failed"
)

// ChapterGenStatus 生成期间挂在章节序号上的瞬时状态，流水线结束后丢弃
type ChapterGenStatus struct {
	Index      int             `json:"index"`
	State      ChapterGenState `json:"state"`
	RetryCount int             `json:"retry_count"`
	Error      string          `json:"error,omitempty"`
}

// PipelineStage 流水线阶段
type PipelineStage string

const (
	StageIdle      PipelineStage = "idle"
	StageOutlining PipelineStage = "outlining"
	StageChapters  PipelineStage = "generating_chapters"
	StageCover     PipelineStage = "generating_cover"
	StageComplete  PipelineStage = "complete"
	StageError     PipelineStage = "error"
)
