// Package entity 定义领域实体
package entity

// ChapterOutline 大纲中的单章概要
type ChapterOutline struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Order   int    `json:"order"` // 1 起始，连续无空洞
}

// Outline 小说大纲，由大纲阶段的原始文本解析而来
type Outline struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Chapters    []ChapterOutline `json:"chapters"`
}

// ChapterCount 返回大纲章节数
func (o *Outline) ChapterCount() int {
	if o == nil {
		return 0
	}
	return len(o.Chapters)
}
