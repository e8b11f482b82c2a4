// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"storyforge-api/internal/application/generation"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	"storyforge-api/internal/infrastructure/speech"
	"storyforge-api/internal/interfaces/http/dto"
	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
)

// NovelHandler 小说生成与查询处理器
type NovelHandler struct {
	orchestrator *generation.Orchestrator
	novelRepo    repository.NovelRepository
	txMgr        repository.Transactor
	synthesizer  speech.Synthesizer
}

// NewNovelHandler 创建小说处理器
func NewNovelHandler(
	orchestrator *generation.Orchestrator,
	novelRepo repository.NovelRepository,
	txMgr repository.Transactor,
	synthesizer speech.Synthesizer,
) *NovelHandler {
	return &NovelHandler{
		orchestrator: orchestrator,
		novelRepo:    novelRepo,
		txMgr:        txMgr,
		synthesizer:  synthesizer,
	}
}

// GenerateNovel 生成完整小说
// @Summary 生成完整小说
// @Description 通过 SSE 流式返回大纲、逐章正文与封面的生成进度
// @Tags Novels
// @Accept json
// @Produce text/event-stream
// @Param body body dto.GenerateNovelRequest true "生成参数"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/novels/generate [post]
func (h *NovelHandler) GenerateNovel(c *gin.Context) {
	var req dto.GenerateNovelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	writeSSEHeaders(c)

	sink := newSSESink(ctx)

	go func() {
		defer sink.close()

		novel, err := h.orchestrator.GenerateNovel(ctx, req.ToGenerationRequest(), sink)
		if err != nil {
			if errors.IsCancelled(err) {
				// 客户端已断开，没有人在听
				logger.Info(ctx, "novel generation cancelled by client")
				return
			}
			appErr := errors.AsAppError(err)
			sink.send(dto.EventError, dto.ErrorEvent{
				ErrorCode: string(appErr.Code),
				Message:   appErr.Message,
			})
			return
		}

		// 断开瞬间完成的小说也要落库，不跟着请求上下文一起取消
		saveCtx := context.WithoutCancel(ctx)
		if err := h.txMgr.WithTransaction(saveCtx, func(txCtx context.Context) error {
			return h.novelRepo.Create(txCtx, novel)
		}); err != nil {
			logger.Error(ctx, "failed to persist generated novel", err, "novel_id", novel.ID)
			sink.send(dto.EventError, dto.ErrorEvent{
				ErrorCode: string(errors.CodeDatabaseError),
				Message:   "failed to persist novel",
			})
			return
		}

		sink.send(dto.EventComplete, dto.CompleteEvent{Novel: dto.ToNovelResponse(novel)})
	}()

	streamEvents(c, sink.events)
}

// ListNovels 获取小说列表
// @Summary 获取小说列表
// @Description 分页获取已生成的小说，不含章节正文
// @Tags Novels
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页条数" default(20)
// @Success 200 {object} dto.Response[dto.NovelListResponse]
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/novels [get]
func (h *NovelHandler) ListNovels(c *gin.Context) {
	ctx := c.Request.Context()
	pageReq := dto.BindPage(c)

	result, err := h.novelRepo.List(ctx, repository.NewPagination(pageReq.Page, pageReq.PageSize))
	if err != nil {
		logger.Error(ctx, "failed to list novels", err)
		dto.InternalError(c, "failed to list novels")
		return
	}

	resp := dto.ToNovelListResponse(result.Items)
	meta := dto.NewPageMeta(pageReq.Page, pageReq.PageSize, int(result.Total))
	dto.SuccessWithPage(c, resp, meta)
}

// GetNovel 获取小说详情
// @Summary 获取小说详情
// @Description 获取指定小说及其全部章节
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Success 200 {object} dto.Response[dto.NovelResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /v1/novels/{nid} [get]
func (h *NovelHandler) GetNovel(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)

	novel, err := h.novelRepo.GetByID(ctx, novelID)
	if err != nil {
		logger.Error(ctx, "failed to get novel", err, "novel_id", novelID)
		dto.InternalError(c, "failed to get novel")
		return
	}
	if novel == nil {
		dto.NotFound(c, "novel not found")
		return
	}

	dto.Success(c, dto.ToNovelResponse(novel))
}

// RetryChapter 重新生成单章
// @Summary 重新生成单章
// @Description 对已生成的小说按章节序号重新生成正文，SSE 流式返回进度，成功后替换落库
// @Tags Novels
// @Accept json
// @Produce text/event-stream
// @Param nid path string true "小说 ID"
// @Param order path int true "章节序号（从 1 开始）"
// @Param body body dto.RetryChapterRequest true "章节概要"
// @Success 200 "SSE stream"
// @Failure 400 {object} dto.ErrorResponse
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/chapters/{order}/retry [post]
func (h *NovelHandler) RetryChapter(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)
	order := dto.BindChapterOrder(c)

	var req dto.RetryChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	novel, err := h.novelRepo.GetByID(ctx, novelID)
	if err != nil {
		logger.Error(ctx, "failed to get novel", err, "novel_id", novelID)
		dto.InternalError(c, "failed to get novel")
		return
	}
	if novel == nil {
		dto.NotFound(c, "novel not found")
		return
	}
	if order < 1 || order > len(novel.Chapters) {
		dto.BadRequest(c, "chapter order out of range")
		return
	}

	outline := outlineFromNovel(novel, order, req.Summary)
	genReq := entity.GenerationRequest{
		Genre: novel.Genre,
		Style: novel.Style,
	}
	previous := novel.Chapters[:order-1]

	writeSSEHeaders(c)
	sink := newSSESink(ctx)

	go func() {
		defer sink.close()

		chapter, err := h.orchestrator.RetryChapter(ctx, outline, genReq, previous, order-1, sink)
		if err != nil {
			if errors.IsCancelled(err) {
				logger.Info(ctx, "chapter retry cancelled by client",
					"novel_id", novelID, "order", order)
				return
			}
			appErr := errors.AsAppError(err)
			sink.send(dto.EventError, dto.ErrorEvent{
				ErrorCode: string(appErr.Code),
				Message:   appErr.Message,
			})
			return
		}

		chapter.NovelID = novel.ID
		saveCtx := context.WithoutCancel(ctx)
		if err := h.txMgr.WithTransaction(saveCtx, func(txCtx context.Context) error {
			return h.novelRepo.ReplaceChapter(txCtx, chapter)
		}); err != nil {
			logger.Error(ctx, "failed to persist retried chapter", err,
				"novel_id", novelID, "order", order)
			sink.send(dto.EventError, dto.ErrorEvent{
				ErrorCode: string(errors.CodeDatabaseError),
				Message:   "failed to persist chapter",
			})
			return
		}

		sink.send(dto.EventChapterDone, dto.ChapterDoneEvent{
			Chapter: dto.ToChapterResponse(chapter, true),
		})
	}()

	streamEvents(c, sink.events)
}

// ChapterAudio 生成章节配音
// @Summary 生成章节配音
// @Description 为指定章节提交配音任务并等待完成，返回音频地址；同章节任务在途时返回 409
// @Tags Novels
// @Produce json
// @Param nid path string true "小说 ID"
// @Param order path int true "章节序号（从 1 开始）"
// @Success 200 {object} dto.Response[dto.ChapterAudioResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /v1/novels/{nid}/chapters/{order}/audio [post]
func (h *NovelHandler) ChapterAudio(c *gin.Context) {
	ctx := c.Request.Context()
	novelID := dto.BindNovelID(c)
	order := dto.BindChapterOrder(c)

	novel, err := h.novelRepo.GetByID(ctx, novelID)
	if err != nil {
		logger.Error(ctx, "failed to get novel", err, "novel_id", novelID)
		dto.InternalError(c, "failed to get novel")
		return
	}
	if novel == nil {
		dto.NotFound(c, "novel not found")
		return
	}

	var chapter *entity.Chapter
	for i := range novel.Chapters {
		if novel.Chapters[i].Order == order {
			chapter = &novel.Chapters[i]
			break
		}
	}
	if chapter == nil {
		dto.NotFound(c, "chapter not found")
		return
	}

	audioURL, err := h.synthesizer.SynthesizeChapter(ctx, novelID, order, chapter.Content)
	if err != nil {
		logger.Error(ctx, "failed to synthesize chapter audio", err,
			"novel_id", novelID, "order", order)
		dto.FromAppError(c, err)
		return
	}

	dto.Success(c, dto.ChapterAudioResponse{
		NovelID:  novelID,
		Order:    order,
		AudioURL: audioURL,
	})
}

// outlineFromNovel 由已落库的小说反推大纲骨架
// 只有目标章带概要，其余章只保留标题和序号供上下文拼接。
func outlineFromNovel(novel *entity.Novel, order int, summary string) *entity.Outline {
	outline := &entity.Outline{
		Title:       novel.Title,
		Description: novel.Description,
		Chapters:    make([]entity.ChapterOutline, 0, len(novel.Chapters)),
	}
	for i := range novel.Chapters {
		ch := entity.ChapterOutline{
			ID:    novel.Chapters[i].ID,
			Title: novel.Chapters[i].Title,
			Order: novel.Chapters[i].Order,
		}
		if novel.Chapters[i].Order == order {
			ch.Summary = summary
		}
		outline.Chapters = append(outline.Chapters, ch)
	}
	return outline
}
