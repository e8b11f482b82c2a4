package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/infrastructure/llm"
	workflowprompt "storyforge-api/internal/workflow/prompt"
	apperrors "storyforge-api/pkg/errors"
)

// fakeStreamer 脚本化的流式客户端
type fakeStreamer struct {
	calls int
	msgs  [][]*schema.Message
	run   func(call int, ctx context.Context, cb llm.StreamCallbacks)
}

func (f *fakeStreamer) Stream(ctx context.Context, messages []*schema.Message, cb llm.StreamCallbacks) {
	f.calls++
	f.msgs = append(f.msgs, messages)
	f.run(f.calls, ctx, cb)
}

func testOutline(n int) *entity.Outline {
	outline := &entity.Outline{
		Title:       "测试小说",
		Description: "测试简介",
	}
	for i := 1; i <= n; i++ {
		outline.Chapters = append(outline.Chapters, entity.ChapterOutline{
			ID:      fmt.Sprintf("ch-%d", i),
			Title:   fmt.Sprintf("第%d章标题", i),
			Summary: fmt.Sprintf("第%d章概要", i),
			Order:   i,
		})
	}
	return outline
}

func joinMessages(msgs []*schema.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func TestChapterGeneratorSuccessFirstAttempt(t *testing.T) {
	streamer := &fakeStreamer{
		run: func(call int, ctx context.Context, cb llm.StreamCallbacks) {
			cb.OnUpdate("正文")
			cb.OnUpdate("正文开头")
			cb.OnComplete("正文开头与结尾")
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	var statuses []entity.ChapterGenStatus
	var updates []string
	chapter, err := gen.Generate(context.Background(), &ChapterInput{
		Index:   0,
		Outline: testOutline(2),
	}, func(index int, text string) {
		updates = append(updates, text)
	}, func(status entity.ChapterGenStatus) {
		statuses = append(statuses, status)
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if streamer.calls != 1 {
		t.Errorf("stream calls = %d, want 1", streamer.calls)
	}
	if chapter.Title != "第1章标题" || chapter.Order != 1 {
		t.Errorf("chapter = %+v", chapter)
	}
	if chapter.Content != "正文开头与结尾" || chapter.WordCount != 7 {
		t.Errorf("content = %q, word_count = %d", chapter.Content, chapter.WordCount)
	}
	if len(updates) != 2 || updates[1] != "正文开头" {
		t.Errorf("updates = %v", updates)
	}

	wantStates := []entity.ChapterGenState{entity.ChapterGenGenerating, entity.ChapterGenSuccess}
	if len(statuses) != len(wantStates) {
		t.Fatalf("statuses = %+v", statuses)
	}
	for i, want := range wantStates {
		if statuses[i].State != want {
			t.Errorf("status[%d].State = %q, want %q", i, statuses[i].State, want)
		}
	}
}

func TestChapterGeneratorRetryBudgetExhausted(t *testing.T) {
	streamer := &fakeStreamer{
		run: func(call int, ctx context.Context, cb llm.StreamCallbacks) {
			cb.OnError(errors.New("upstream hiccup"))
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	var statuses []entity.ChapterGenStatus
	_, err := gen.Generate(context.Background(), &ChapterInput{
		Index:   0,
		Outline: testOutline(1),
	}, nil, func(status entity.ChapterGenStatus) {
		statuses = append(statuses, status)
	})
	if err == nil {
		t.Fatal("expected error after budget exhaustion")
	}

	// 1 次初始 + 5 次重试
	if streamer.calls != 6 {
		t.Errorf("stream calls = %d, want 6", streamer.calls)
	}
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeRetryExhausted {
		t.Errorf("error code = %q, want %q", appErr.Code, apperrors.CodeRetryExhausted)
	}

	// generating(0), retrying(1..5), failed(5)
	if len(statuses) != 7 {
		t.Fatalf("statuses = %+v", statuses)
	}
	if statuses[0].State != entity.ChapterGenGenerating || statuses[0].RetryCount != 0 {
		t.Errorf("status[0] = %+v", statuses[0])
	}
	for i := 1; i <= 5; i++ {
		if statuses[i].State != entity.ChapterGenRetrying || statuses[i].RetryCount != i {
			t.Errorf("status[%d] = %+v", i, statuses[i])
		}
	}
	if statuses[6].State != entity.ChapterGenFailed || statuses[6].RetryCount != 5 {
		t.Errorf("status[6] = %+v", statuses[6])
	}

	// 每次重试重发完全相同的提示词
	first := joinMessages(streamer.msgs[0])
	for i, msgs := range streamer.msgs {
		if joinMessages(msgs) != first {
			t.Errorf("attempt %d prompt differs from first attempt", i+1)
		}
	}
}

func TestChapterGeneratorRecoversWithinBudget(t *testing.T) {
	streamer := &fakeStreamer{
		run: func(call int, ctx context.Context, cb llm.StreamCallbacks) {
			if call <= 2 {
				cb.OnError(errors.New("transient"))
				return
			}
			cb.OnComplete("第三次成功的正文")
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	chapter, err := gen.Generate(context.Background(), &ChapterInput{
		Index:   0,
		Outline: testOutline(1),
	}, nil, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if streamer.calls != 3 {
		t.Errorf("stream calls = %d, want 3", streamer.calls)
	}
	if chapter.Content != "第三次成功的正文" {
		t.Errorf("content = %q", chapter.Content)
	}
}

func TestChapterGeneratorCancelledDoesNotRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	streamer := &fakeStreamer{
		run: func(call int, c context.Context, cb llm.StreamCallbacks) {
			// 取消时两个终态回调都不触发
			cancel()
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	_, err := gen.Generate(ctx, &ChapterInput{
		Index:   0,
		Outline: testOutline(1),
	}, nil, nil)
	if !apperrors.IsCancelled(err) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if streamer.calls != 1 {
		t.Errorf("stream calls = %d, want 1 (no retry on cancel)", streamer.calls)
	}
}

func TestChapterGeneratorEmptyContentRetries(t *testing.T) {
	streamer := &fakeStreamer{
		run: func(call int, ctx context.Context, cb llm.StreamCallbacks) {
			if call == 1 {
				cb.OnComplete("   \n ")
				return
			}
			cb.OnComplete("有效正文")
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	chapter, err := gen.Generate(context.Background(), &ChapterInput{
		Index:   0,
		Outline: testOutline(1),
	}, nil, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if streamer.calls != 2 {
		t.Errorf("stream calls = %d, want 2", streamer.calls)
	}
	if chapter.Content != "有效正文" {
		t.Errorf("content = %q", chapter.Content)
	}
}

func TestChapterGeneratorPromptCarriesContext(t *testing.T) {
	prevTail := strings.Repeat("尾", 800)
	prevContent := strings.Repeat("前", 300) + prevTail

	var prev entity.Chapter
	prev.ID = "ch-1"
	prev.Title = "第1章标题"
	prev.Order = 1
	prev.SetContent(prevContent)

	streamer := &fakeStreamer{
		run: func(call int, ctx context.Context, cb llm.StreamCallbacks) {
			cb.OnComplete("第二章正文")
		},
	}
	gen := NewChapterGenerator(streamer, workflowprompt.NewRegistry())

	_, err := gen.Generate(context.Background(), &ChapterInput{
		Index:    1,
		Outline:  testOutline(3),
		Previous: []entity.Chapter{prev},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	prompt := joinMessages(streamer.msgs[0])
	if !strings.Contains(prompt, prevTail) {
		t.Error("prompt should carry the 800-rune tail of the previous chapter")
	}
	if strings.Contains(prompt, "前前") {
		t.Error("prompt should not carry content beyond the tail window")
	}
	if !strings.Contains(prompt, "第1章概要") {
		t.Error("prompt should carry the previous chapter summary")
	}
	if !strings.Contains(prompt, "第3章概要") {
		t.Error("prompt should carry the next chapter summary for foreshadowing")
	}
}
