package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"storyforge-api/internal/config"
)

func sseServer(t *testing.T, handler http.HandlerFunc) *SSEClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSSEClient(&config.LLMConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	})
}

type streamRecorder struct {
	updates  []string
	complete *string
	err      error
	errCalls int
	okCalls  int
}

func (r *streamRecorder) callbacks() StreamCallbacks {
	return StreamCallbacks{
		OnUpdate: func(fullText string) {
			r.updates = append(r.updates, fullText)
		},
		OnComplete: func(fullText string) {
			r.okCalls++
			r.complete = &fullText
		},
		OnError: func(err error) {
			r.errCalls++
			r.err = err
		},
	}
}

func writeSSE(t *testing.T, w http.ResponseWriter, lines ...string) {
	t.Helper()
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("response writer does not support flushing")
	}
	for _, line := range lines {
		fmt.Fprintf(w, "%s\n\n", line)
		flusher.Flush()
	}
}

func TestStreamAccumulatesDeltasUntilDone(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "test-model" || req["stream"] != true {
			t.Errorf("request = %v", req)
		}

		writeSSE(t, w,
			`data: {"choices":[{"delta":{"content":"你"}}]}`,
			`data: {"choices":[{"delta":{"content":"好"}}]}`,
			`data: {"choices":[{"delta":{"content":""}}]}`,
			`data: [DONE]`,
		)
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), []*schema.Message{
		schema.UserMessage("打个招呼"),
	}, rec.callbacks())

	if rec.errCalls != 0 {
		t.Fatalf("unexpected error: %v", rec.err)
	}
	if rec.okCalls != 1 || rec.complete == nil || *rec.complete != "你好" {
		t.Errorf("complete = %v (calls=%d)", rec.complete, rec.okCalls)
	}
	// 每帧回调携带累积全文，空增量不触发
	want := []string{"你", "你好"}
	if len(rec.updates) != len(want) {
		t.Fatalf("updates = %v", rec.updates)
	}
	for i := range want {
		if rec.updates[i] != want[i] {
			t.Errorf("update[%d] = %q, want %q", i, rec.updates[i], want[i])
		}
	}
}

func TestStreamSkipsMalformedFrames(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			`data: {"choices":[{"delta":{"content":"第一段"}}]}`,
			`data: {not valid json`,
			`: comment line`,
			`event: ping`,
			`data: {"choices":[]}`,
			`data: {"choices":[{"delta":{"content":"第二段"}}]}`,
			`data: [DONE]`,
		)
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), nil, rec.callbacks())

	if rec.errCalls != 0 {
		t.Fatalf("malformed frame should not abort the stream: %v", rec.err)
	}
	if rec.complete == nil || *rec.complete != "第一段第二段" {
		t.Errorf("complete = %v", rec.complete)
	}
}

func TestStreamEOFWithoutDoneCompletes(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"choices":[{"delta":{"content":"未收尾"}}]}`)
		// 不发 [DONE] 直接断开
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), nil, rec.callbacks())

	if rec.errCalls != 0 {
		t.Fatalf("unexpected error: %v", rec.err)
	}
	if rec.okCalls != 1 || *rec.complete != "未收尾" {
		t.Errorf("complete = %v", rec.complete)
	}
}

func TestStreamTerminalCallbackFiresOnce(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w,
			`data: {"choices":[{"delta":{"content":"结尾"}}]}`,
			`data: [DONE]`,
			`data: {"choices":[{"delta":{"content":"多余"}}]}`,
			`data: [DONE]`,
		)
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), nil, rec.callbacks())

	// [DONE] 之后的帧不会再触发任何终态回调
	if rec.okCalls != 1 || rec.errCalls != 0 {
		t.Fatalf("okCalls=%d errCalls=%d, want 1/0", rec.okCalls, rec.errCalls)
	}
	if *rec.complete != "结尾" {
		t.Errorf("complete = %q", *rec.complete)
	}
}

func TestStreamReadErrorReportsOnce(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"choices":[{"delta":{"content":"半途"}}]}`)
		// 超出扫描缓冲上限的行触发读取错误
		writeSSE(t, w, "data: "+strings.Repeat("x", 2*1024*1024))
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), nil, rec.callbacks())

	if rec.errCalls != 1 || rec.okCalls != 0 {
		t.Fatalf("errCalls=%d okCalls=%d, want 1/0", rec.errCalls, rec.okCalls)
	}
	if len(rec.updates) != 1 || rec.updates[0] != "半途" {
		t.Errorf("updates = %v", rec.updates)
	}
}

func TestStreamNon200ReportsError(t *testing.T) {
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	rec := &streamRecorder{}
	client.Stream(context.Background(), nil, rec.callbacks())

	if rec.errCalls != 1 || rec.okCalls != 0 {
		t.Fatalf("errCalls=%d okCalls=%d", rec.errCalls, rec.okCalls)
	}
}

func TestStreamCancelledCallsNeitherCallback(t *testing.T) {
	release := make(chan struct{})
	client := sseServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeSSE(t, w, `data: {"choices":[{"delta":{"content":"开头"}}]}`)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	var updates int
	done := make(chan struct{})
	var okCalls, errCalls int

	go func() {
		defer close(done)
		client.Stream(ctx, nil, StreamCallbacks{
			OnUpdate: func(string) {
				updates++
				cancel()
			},
			OnComplete: func(string) { okCalls++ },
			OnError:    func(error) { errCalls++ },
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not return after cancellation")
	}

	if updates == 0 {
		t.Fatal("expected at least one update before cancel")
	}
	// 取消既不是完成也不是失败
	if okCalls != 0 || errCalls != 0 {
		t.Errorf("okCalls=%d errCalls=%d, want 0/0", okCalls, errCalls)
	}
}
