// Package entity 定义领域实体
package entity

import (
	"time"
)

// Chapter 章节实体，生成成功后不再变更
type Chapter struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	NovelID   string    `json:"novel_id" gorm:"type:uuid;index"`
	Title     string    `json:"title" gorm:"type:varchar(255)"`
	Content   string    `json:"content" gorm:"type:text"`
	Order     int       `json:"order" gorm:"column:seq_num;not null"`
	WordCount int       `json:"word_count" gorm:"default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 指定表名
func (Chapter) TableName() string {
	return "chapters"
}

// SetContent 设置章节正文并按 rune 统计字数
func (c *Chapter) SetContent(content string) {
	c.Content = content
	c.WordCount = len([]rune(content))
}

// Novel 小说聚合，由流水线独占构建，返回调用方后不再内部修改
type Novel struct {
	ID            string    `json:"id" gorm:"type:uuid;primaryKey"`
	Title         string    `json:"title" gorm:"type:varchar(255);not null"`
	Description   string    `json:"description,omitempty" gorm:"type:text"`
	Genre         string    `json:"genre,omitempty" gorm:"type:varchar(100)"`
	Style         string    `json:"style,omitempty" gorm:"type:varchar(100)"`
	Chapters      []Chapter `json:"chapters" gorm:"foreignKey:NovelID"`
	CoverImageURL string    `json:"cover_image_url,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (Novel) TableName() string {
	return "novels"
}

// TotalWordCount 全书字数
func (n *Novel) TotalWordCount() int {
	total := 0
	for i := range n.Chapters {
		total += n.Chapters[i].WordCount
	}
	return total
}
