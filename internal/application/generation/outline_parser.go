package generation

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/pkg/logger"
)

// 解析层的默认值与阈值
const (
	defaultNovelTitle       = "未命名小说"
	defaultNovelDescription = "暂无简介"

	// 概要短于该 rune 数会记一条告警，但仍然保留
	summaryWarnRunes = 300
)

var (
	chapterHeadingRe = regexp.MustCompile(`^##\s*第(.+?)章\s*(.*)$`)
	descHeadingRe    = regexp.MustCompile(`^##\s*简介\s*$`)
)

// parseMode 当前行归属
type parseMode int

const (
	modeNone parseMode = iota
	modeDescription
	modeSummary
)

// ParseOutline 把大纲阶段的原始文本解析为结构化大纲
// 尽力而为，永不失败：解析不了的段落丢弃而不是整体报错。
// 生成被截断时留下的"只有标题没有概要"的章节也会被丢弃，
// 后续章节的序号密排补位。
func ParseOutline(ctx context.Context, raw string) *entity.Outline {
	outline := &entity.Outline{}

	var (
		descLines    []string
		current      *entity.ChapterOutline
		summaryLines []string
		mode         = modeNone
	)

	flush := func() {
		if current == nil {
			return
		}
		summary := strings.TrimSpace(strings.Join(summaryLines, "\n"))
		if summary == "" {
			// 有标题没概要的残章不进结果
			current = nil
			summaryLines = nil
			return
		}
		current.Summary = summary
		current.Order = len(outline.Chapters) + 1
		outline.Chapters = append(outline.Chapters, *current)
		current = nil
		summaryLines = nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "###"):
			// 章节概要标记，开始收集当前章的概要行
			mode = modeSummary
			continue

		case chapterHeadingRe.MatchString(trimmed):
			flush()
			m := chapterHeadingRe.FindStringSubmatch(trimmed)
			title := strings.TrimSpace(m[2])
			if title == "" {
				title = strings.TrimSpace(strings.TrimPrefix(trimmed, "##"))
			}
			current = &entity.ChapterOutline{
				ID:    uuid.NewString(),
				Title: title,
			}
			mode = modeNone
			continue

		case descHeadingRe.MatchString(trimmed):
			mode = modeDescription
			continue

		case strings.HasPrefix(trimmed, "##"):
			// 其他二级标题，结束当前收集
			mode = modeNone
			continue

		case strings.HasPrefix(trimmed, "#"):
			if outline.Title == "" {
				outline.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			}
			mode = modeNone
			continue
		}

		if trimmed == "" {
			continue
		}
		switch mode {
		case modeDescription:
			descLines = append(descLines, trimmed)
		case modeSummary:
			if current != nil {
				summaryLines = append(summaryLines, trimmed)
			}
		}
	}
	flush()

	if outline.Title == "" {
		outline.Title = defaultNovelTitle
	}
	outline.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
	if outline.Description == "" {
		outline.Description = defaultNovelDescription
	}

	for i := range outline.Chapters {
		if n := utf8.RuneCountInString(outline.Chapters[i].Summary); n < summaryWarnRunes {
			logger.Warn(ctx, "chapter summary shorter than expected",
				"chapter_order", outline.Chapters[i].Order,
				"summary_runes", n,
				"threshold", summaryWarnRunes,
			)
		}
	}

	return outline
}
