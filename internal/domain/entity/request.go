// Package entity 定义领域实体
package entity

import "strings"

// LengthClass 篇幅档位
type LengthClass string

const (
	LengthShort  LengthClass = "short"
	LengthMedium LengthClass = "medium"
	LengthLong   LengthClass = "long"
)

// ChapterRange 篇幅档位对应的章节数区间
// 仅作为提示词约束，生成侧不保证遵守，解析层的容错才是兜底。
type ChapterRange struct {
	Min int
	Max int
}

// Range 返回篇幅档位的章节数区间
func (l LengthClass) Range() ChapterRange {
	switch l {
	case LengthMedium:
		return ChapterRange{Min: 8, Max: 12}
	case LengthLong:
		return ChapterRange{Min: 15, Max: 20}
	default:
		return ChapterRange{Min: 3, Max: 5}
	}
}

// Valid 检查篇幅档位是否合法
func (l LengthClass) Valid() bool {
	switch l {
	case LengthShort, LengthMedium, LengthLong:
		return true
	}
	return false
}

// GenerationRequest 小说生成请求，创建后不可变
type GenerationRequest struct {
	Genre      string      `json:"genre"`
	Style      string      `json:"style"`
	Plot       string      `json:"plot"`
	Length     LengthClass `json:"length"`
	Characters string      `json:"characters,omitempty"`
	WorldNotes string      `json:"world_notes,omitempty"`
}

// Normalize 归一化请求字段
func (r *GenerationRequest) Normalize() {
	r.Genre = strings.TrimSpace(r.Genre)
	r.Style = strings.TrimSpace(r.Style)
	r.Plot = strings.TrimSpace(r.Plot)
	r.Characters = strings.TrimSpace(r.Characters)
	r.WorldNotes = strings.TrimSpace(r.WorldNotes)
	if !r.Length.Valid() {
		r.Length = LengthShort
	}
}
