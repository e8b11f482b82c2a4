// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/interfaces/http/dto"
)

// sseEvent 单条 SSE 事件
type sseEvent struct {
	name    string
	payload any
}

// sseSink 把流水线进度转成 SSE 事件流
// 回调在流水线 goroutine 里触发，事件经由通道交给 HTTP goroutine 发送。
// 客户端断开后 ctx 取消，send 直接丢弃事件避免流水线 goroutine 卡死。
type sseSink struct {
	ctx    context.Context
	events chan sseEvent
}

func newSSESink(ctx context.Context) *sseSink {
	return &sseSink{
		ctx:    ctx,
		events: make(chan sseEvent, 64),
	}
}

func (s *sseSink) send(name string, payload any) {
	select {
	case s.events <- sseEvent{name: name, payload: payload}:
	case <-s.ctx.Done():
	}
}

func (s *sseSink) close() {
	close(s.events)
}

func (s *sseSink) OnStage(stage entity.PipelineStage) {
	s.send(dto.EventStage, dto.StageEvent{Stage: string(stage)})
}

func (s *sseSink) OnOutlineUpdate(text string) {
	s.send(dto.EventOutlineDelta, dto.OutlineDeltaEvent{Text: text})
}

func (s *sseSink) OnOutlineReady(outline *entity.Outline) {
	s.send(dto.EventOutlineReady, dto.ToOutlineReadyEvent(outline))
}

func (s *sseSink) OnChapterUpdate(index int, text string) {
	s.send(dto.EventChapterDelta, dto.ChapterDeltaEvent{Index: index, Text: text})
}

func (s *sseSink) OnChapterStatus(status entity.ChapterGenStatus) {
	s.send(dto.EventChapterStatus, dto.ChapterStatusEvent{
		Index:      status.Index,
		State:      string(status.State),
		RetryCount: status.RetryCount,
		Error:      status.Error,
	})
}

func (s *sseSink) OnChapterComplete(chapter *entity.Chapter) {
	s.send(dto.EventChapterDone, dto.ChapterDoneEvent{
		Chapter: dto.ToChapterResponse(chapter, true),
	})
}

// writeSSEHeaders 设置 SSE 响应头
func writeSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
}

// streamEvents 把事件通道写完为止
func streamEvents(c *gin.Context, events <-chan sseEvent) {
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				// 事件通道关闭，流结束
				return false
			}
			c.SSEvent(ev.name, ev.payload)
			return true

		case <-c.Request.Context().Done():
			// 客户端断开
			return false
		}
	})
}
