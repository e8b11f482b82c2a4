package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/imagegen"
	"storyforge-api/internal/infrastructure/llm"
	workflowprompt "storyforge-api/internal/workflow/prompt"
	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("generation")

// Orchestrator 小说生成流水线
// 阶段：大纲 -> 逐章正文 -> 封面（尽力而为）。
// 章节严格串行生成，后一章的提示词依赖前一章已完成的正文，
// 这是硬性约束，不是可并行化的优化点。
type Orchestrator struct {
	streamer   llm.ChatStreamer
	registry   *workflowprompt.Registry
	chapterGen *ChapterGenerator
	covers     imagegen.CoverGenerator
}

// NewOrchestrator 创建流水线
// covers 传 nil 时跳过封面阶段。
func NewOrchestrator(streamer llm.ChatStreamer, registry *workflowprompt.Registry, covers imagegen.CoverGenerator) *Orchestrator {
	return &Orchestrator{
		streamer:   streamer,
		registry:   registry,
		chapterGen: NewChapterGenerator(streamer, registry),
		covers:     covers,
	}
}

// GenerateNovel 跑完整条流水线并返回完成的小说
// 大纲或任一章失败会中止整条流水线（不返回残缺的小说）；
// 封面失败只降级不中止。上下文取消返回 Cancelled 错误，
// 已完成的章节不回滚。
func (o *Orchestrator) GenerateNovel(ctx context.Context, req entity.GenerationRequest, sink ProgressSink) (*entity.Novel, error) {
	ctx, span := tracer.Start(ctx, "generation.GenerateNovel")
	defer span.End()

	if sink == nil {
		sink = NopSink{}
	}
	req.Normalize()
	start := time.Now()

	fail := func(err error) (*entity.Novel, error) {
		span.RecordError(err)
		if errors.IsCancelled(err) {
			metrics.NovelGenerationTotal.WithLabelValues("cancelled").Inc()
		} else {
			sink.OnStage(entity.StageError)
			metrics.NovelGenerationTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	// 大纲阶段
	sink.OnStage(entity.StageOutlining)
	outline, err := o.generateOutline(ctx, req, sink)
	if err != nil {
		return fail(err)
	}
	sink.OnOutlineReady(outline)
	logger.Info(ctx, "outline ready",
		"title", outline.Title, "chapters", outline.ChapterCount())

	// 逐章生成，严格按序
	sink.OnStage(entity.StageChapters)
	chapters := make([]entity.Chapter, 0, outline.ChapterCount())
	for i := range outline.Chapters {
		chapter, err := o.chapterGen.Generate(ctx, &ChapterInput{
			Index:    i,
			Outline:  outline,
			Request:  req,
			Previous: chapters,
		}, sink.OnChapterUpdate, sink.OnChapterStatus)
		if err != nil {
			// 不跳过继续：残缺的小说不能当完整结果返回
			return fail(err)
		}
		chapters = append(chapters, *chapter)
		sink.OnChapterComplete(chapter)
	}

	novel := &entity.Novel{
		ID:          uuid.NewString(),
		Title:       outline.Title,
		Description: outline.Description,
		Genre:       req.Genre,
		Style:       req.Style,
		Chapters:    chapters,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	for i := range novel.Chapters {
		novel.Chapters[i].NovelID = novel.ID
	}

	// 封面阶段：唯一允许失败的环节，缺封面只是观感问题
	if o.covers != nil {
		sink.OnStage(entity.StageCover)
		if url, err := o.generateCover(ctx, novel); err != nil {
			logger.Warn(ctx, "cover generation failed, continuing without cover",
				"novel_id", novel.ID, "error", err.Error())
		} else {
			novel.CoverImageURL = url
		}
	}

	sink.OnStage(entity.StageComplete)
	metrics.NovelGenerationTotal.WithLabelValues("completed").Inc()
	metrics.NovelGenerationDuration.Observe(time.Since(start).Seconds())
	logger.Info(ctx, "novel generation complete",
		"novel_id", novel.ID,
		"chapters", len(novel.Chapters),
		"word_count", novel.TotalWordCount(),
		"has_cover", novel.CoverImageURL != "",
	)
	return novel, nil
}

// RetryChapter 手动重新生成单章
// 每次调用都带全新的重试预算，与自动重试互不影响。
func (o *Orchestrator) RetryChapter(ctx context.Context, outline *entity.Outline, req entity.GenerationRequest, previous []entity.Chapter, index int, sink ProgressSink) (*entity.Chapter, error) {
	if sink == nil {
		sink = NopSink{}
	}
	req.Normalize()
	return o.chapterGen.Generate(ctx, &ChapterInput{
		Index:    index,
		Outline:  outline,
		Request:  req,
		Previous: previous,
	}, sink.OnChapterUpdate, sink.OnChapterStatus)
}

// generateOutline 流式生成大纲原文并解析
func (o *Orchestrator) generateOutline(ctx context.Context, req entity.GenerationRequest, sink ProgressSink) (*entity.Outline, error) {
	ctx, span := tracer.Start(ctx, "generation.generateOutline")
	defer span.End()

	tpl, err := o.registry.ChatTemplate(workflowprompt.PromptOutlineGenV1)
	if err != nil {
		return nil, err
	}

	r := req.Length.Range()
	msgs, err := tpl.Format(ctx, map[string]any{
		"genre":       req.Genre,
		"style":       req.Style,
		"plot":        req.Plot,
		"length_hint": fmt.Sprintf("%d到%d章", r.Min, r.Max),
		"characters":  req.Characters,
		"world_notes": req.WorldNotes,
	})
	if err != nil {
		return nil, err
	}

	var (
		raw       string
		streamErr error
		resolved  bool
	)
	o.streamer.Stream(ctx, msgs, llm.StreamCallbacks{
		OnUpdate: sink.OnOutlineUpdate,
		OnComplete: func(fullText string) {
			raw = fullText
			resolved = true
		},
		OnError: func(err error) {
			streamErr = err
			resolved = true
		},
	})

	if !resolved {
		if ctx.Err() != nil {
			return nil, errors.Cancelled(ctx.Err())
		}
		streamErr = fmt.Errorf("outline stream ended without result")
	}
	if streamErr != nil {
		return nil, errors.Wrap(streamErr, errors.CodeStreamFailed, "outline generation failed")
	}

	outline := ParseOutline(ctx, raw)
	if outline.ChapterCount() == 0 {
		// 没有大纲不开工，一章都解析不出来只能报错
		return nil, errors.ErrOutlineEmpty.WithDetail(fmt.Sprintf("raw_len=%d", len(raw)))
	}
	return outline, nil
}

// generateCover 提交封面任务并等待结果
func (o *Orchestrator) generateCover(ctx context.Context, novel *entity.Novel) (string, error) {
	ctx, span := tracer.Start(ctx, "generation.generateCover")
	defer span.End()

	taskID, err := o.covers.Submit(ctx, buildCoverPrompt(novel))
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	url, err := o.covers.PollUntilDone(ctx, taskID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	return url, nil
}

// buildCoverPrompt 由书名、题材和简介拼封面提示词
func buildCoverPrompt(novel *entity.Novel) string {
	var b strings.Builder
	b.WriteString("小说封面插画，书名《")
	b.WriteString(novel.Title)
	b.WriteString("》")
	if novel.Genre != "" {
		b.WriteString("，题材：")
		b.WriteString(novel.Genre)
	}
	if novel.Description != "" {
		b.WriteString("。")
		b.WriteString(headRunes(novel.Description, 120))
	}
	return b.String()
}
