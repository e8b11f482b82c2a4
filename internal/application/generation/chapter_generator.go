package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/llm"
	workflowprompt "storyforge-api/internal/workflow/prompt"
	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

// 章节生成约束
const (
	// maxChapterRetries 自动重试上限；1 次初始 + 5 次重试共 6 次尝试。
	// 固定值，不随调用配置。
	maxChapterRetries = 5

	// continuityTailRunes 嵌入下一章提示词的上一章结尾长度
	continuityTailRunes = 800
)

// ChapterInput 单章生成输入
type ChapterInput struct {
	// Index 0 起始的章节下标，与 Outline.Chapters 对齐
	Index    int
	Outline  *entity.Outline
	Request  entity.GenerationRequest
	Previous []entity.Chapter // 已完成章节，按序
}

// TextUpdateFunc 实时文本回调，text 为该章到目前为止的累积全文
type TextUpdateFunc func(index int, text string)

// StatusUpdateFunc 章节状态回调
type StatusUpdateFunc func(status entity.ChapterGenStatus)

// ChapterGenerator 单章生成器
// 失败自动重试，重试是完整重新生成（不续写半截文本），
// 每次重发相同提示词，产出可能完全不同。
type ChapterGenerator struct {
	streamer llm.ChatStreamer
	registry *workflowprompt.Registry
}

// NewChapterGenerator 创建章节生成器
func NewChapterGenerator(streamer llm.ChatStreamer, registry *workflowprompt.Registry) *ChapterGenerator {
	return &ChapterGenerator{streamer: streamer, registry: registry}
}

// Generate 生成一章，带自动重试
// 每次调用都是全新的重试预算，调用方手动触发的"重新生成"
// 直接再次调用即可。
func (g *ChapterGenerator) Generate(ctx context.Context, in *ChapterInput, onText TextUpdateFunc, onStatus StatusUpdateFunc) (*entity.Chapter, error) {
	if g == nil || g.streamer == nil {
		return nil, fmt.Errorf("chat streamer not configured")
	}
	if in == nil || in.Outline == nil {
		return nil, fmt.Errorf("input is nil")
	}
	if in.Index < 0 || in.Index >= len(in.Outline.Chapters) {
		return nil, fmt.Errorf("chapter index %d out of range", in.Index)
	}

	entry := in.Outline.Chapters[in.Index]
	ctx = logger.WithContext(ctx, logger.ChapterKey, entry.Order)

	msgs, err := g.buildMessages(ctx, in, entry)
	if err != nil {
		return nil, err
	}

	emit := func(state entity.ChapterGenState, retry int, errMsg string) {
		if onStatus != nil {
			onStatus(entity.ChapterGenStatus{
				Index:      in.Index,
				State:      state,
				RetryCount: retry,
				Error:      errMsg,
			})
		}
	}

	emit(entity.ChapterGenGenerating, 0, "")

	var lastErr error
	for attempt := 0; attempt <= maxChapterRetries; attempt++ {
		if attempt > 0 {
			metrics.ChapterRetryTotal.Inc()
			emit(entity.ChapterGenRetrying, attempt, lastErr.Error())
			logger.Warn(ctx, "retrying chapter generation",
				"attempt", attempt, "max_retries", maxChapterRetries, "error", lastErr.Error())
		}

		content, outcome := g.streamOnce(ctx, msgs, in.Index, onText)
		switch outcome.kind {
		case streamComplete:
			chapter := &entity.Chapter{
				ID:        uuid.NewString(),
				Title:     entry.Title,
				Order:     entry.Order,
				CreatedAt: time.Now(),
			}
			chapter.SetContent(content)
			metrics.ChapterGenerationTotal.WithLabelValues("success").Inc()
			metrics.ChapterWordCount.Observe(float64(chapter.WordCount))
			emit(entity.ChapterGenSuccess, attempt, "")
			return chapter, nil

		case streamCancelled:
			return nil, errors.Cancelled(ctx.Err())

		case streamError:
			lastErr = outcome.err
		}
	}

	metrics.ChapterGenerationTotal.WithLabelValues("failed").Inc()
	emit(entity.ChapterGenFailed, maxChapterRetries, lastErr.Error())
	return nil, errors.Wrap(lastErr, errors.CodeRetryExhausted,
		fmt.Sprintf("chapter %d failed after %d attempts", entry.Order, maxChapterRetries+1))
}

type streamOutcomeKind int

const (
	streamComplete streamOutcomeKind = iota
	streamError
	streamCancelled
)

type streamOutcome struct {
	kind streamOutcomeKind
	err  error
}

// streamOnce 跑一次流式生成，把回调三态折叠成单个结果
func (g *ChapterGenerator) streamOnce(ctx context.Context, msgs []*schema.Message, index int, onText TextUpdateFunc) (string, streamOutcome) {
	var (
		content  string
		outcome  = streamOutcome{kind: streamCancelled}
		resolved bool
	)

	g.streamer.Stream(ctx, msgs, llm.StreamCallbacks{
		OnUpdate: func(fullText string) {
			if onText != nil {
				onText(index, fullText)
			}
		},
		OnComplete: func(fullText string) {
			content = fullText
			outcome = streamOutcome{kind: streamComplete}
			resolved = true
		},
		OnError: func(err error) {
			outcome = streamOutcome{kind: streamError, err: err}
			resolved = true
		},
	})

	if !resolved && ctx.Err() == nil {
		// 流静默结束又不是取消，按错误重试
		outcome = streamOutcome{kind: streamError, err: fmt.Errorf("stream ended without result")}
	}
	if outcome.kind == streamComplete && strings.TrimSpace(content) == "" {
		outcome = streamOutcome{kind: streamError, err: fmt.Errorf("empty chapter content")}
	}
	return content, outcome
}

// buildMessages 组装本章提示词
// 非首章带上一章的标题、概要和结尾 800 字作为续写锚点；
// 非末章带下一章标题概要用来埋伏笔；首末章各给定位性指示。
func (g *ChapterGenerator) buildMessages(ctx context.Context, in *ChapterInput, entry entity.ChapterOutline) ([]*schema.Message, error) {
	tpl, err := g.registry.ChatTemplate(workflowprompt.PromptChapterGenV1)
	if err != nil {
		return nil, err
	}

	var blocks []string
	if in.Index > 0 {
		prevEntry := in.Outline.Chapters[in.Index-1]
		block := fmt.Sprintf("上一章《%s》概要：\n%s", prevEntry.Title, prevEntry.Summary)
		if in.Index-1 < len(in.Previous) {
			prev := in.Previous[in.Index-1]
			block += fmt.Sprintf("\n\n上一章结尾（正文必须从这里自然接续）：\n%s", tailRunes(prev.Content, continuityTailRunes))
		}
		blocks = append(blocks, block)
	}
	if in.Index < len(in.Outline.Chapters)-1 {
		next := in.Outline.Chapters[in.Index+1]
		blocks = append(blocks, fmt.Sprintf("下一章《%s》概要（请在本章埋下伏笔）：\n%s", next.Title, next.Summary))
	}

	positionNote := ""
	switch {
	case in.Index == 0:
		positionNote = "这是全书第一章，请做好开篇：交代世界观与主要人物，建立故事基调。"
	case in.Index == len(in.Outline.Chapters)-1:
		positionNote = "这是全书最后一章，请收束所有主要线索，给出完整结局。"
	}

	vars := map[string]any{
		"novel_title":       strings.TrimSpace(in.Outline.Title),
		"novel_description": strings.TrimSpace(in.Outline.Description),
		"genre":             strings.TrimSpace(in.Request.Genre),
		"style":             strings.TrimSpace(in.Request.Style),
		"chapter_order":     entry.Order,
		"chapter_title":     strings.TrimSpace(entry.Title),
		"chapter_summary":   strings.TrimSpace(entry.Summary),
		"context_block":     strings.Join(blocks, "\n\n"),
		"position_note":     positionNote,
	}
	return tpl.Format(ctx, vars)
}
