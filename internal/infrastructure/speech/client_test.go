package speech

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "storyforge-api/pkg/errors"
)

// fakeInflight 内存版在途集合
type fakeInflight struct {
	held     map[string]bool
	acquired []string
	released []string
}

func newFakeInflight() *fakeInflight {
	return &fakeInflight{held: map[string]bool{}}
}

func (f *fakeInflight) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	f.acquired = append(f.acquired, key)
	return true, nil
}

func (f *fakeInflight) Release(ctx context.Context, key string) error {
	delete(f.held, key)
	f.released = append(f.released, key)
	return nil
}

func testClient(t *testing.T, handler http.Handler, inflight InflightSet) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		baseURL:     srv.URL,
		voice:       "zh_female_story",
		httpClient:  srv.Client(),
		inflight:    inflight,
		maxAttempts: 10,
		interval:    time.Millisecond,
	}
}

func TestSynthesizeChapterHappyPath(t *testing.T) {
	queries := 0
	inflight := newFakeInflight()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/speech/tasks":
			fmt.Fprint(w, `{"status":0,"data":{"task_id":"tts-1"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/speech/tasks/tts-1":
			queries++
			if queries == 1 {
				fmt.Fprint(w, `{"status":0,"data":{"task_status":"Running"}}`)
				return
			}
			fmt.Fprint(w, `{"status":0,"data":{"task_status":"Success","audio_url":"https://audio.example.com/1.mp3"}}`)
		default:
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}), inflight)

	url, err := client.SynthesizeChapter(context.Background(), "novel-1", 3, "章节正文")
	if err != nil {
		t.Fatalf("SynthesizeChapter() error = %v", err)
	}
	if url != "https://audio.example.com/1.mp3" {
		t.Errorf("url = %q", url)
	}

	wantKey := "speech:inflight:novel-1:3"
	if len(inflight.acquired) != 1 || inflight.acquired[0] != wantKey {
		t.Errorf("acquired = %v", inflight.acquired)
	}
	if len(inflight.released) != 1 || inflight.released[0] != wantKey {
		t.Errorf("released = %v, inflight key must be released", inflight.released)
	}
}

func TestSynthesizeChapterBusy(t *testing.T) {
	inflight := newFakeInflight()
	inflight.held["speech:inflight:novel-1:3"] = true

	requests := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}), inflight)

	_, err := client.SynthesizeChapter(context.Background(), "novel-1", 3, "正文")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeGenerationBusy {
		t.Fatalf("error code = %q, want %q", appErr.Code, apperrors.CodeGenerationBusy)
	}
	if requests != 0 {
		t.Errorf("no upstream request should be made while busy, got %d", requests)
	}
}

func TestSynthesizeChapterTaskFailure(t *testing.T) {
	inflight := newFakeInflight()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"status":0,"data":{"task_id":"tts-1"}}`)
			return
		}
		fmt.Fprint(w, `{"status":0,"data":{"task_status":"Failure"}}`)
	}), inflight)

	_, err := client.SynthesizeChapter(context.Background(), "novel-1", 1, "正文")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskFailed {
		t.Errorf("error code = %q", appErr.Code)
	}
	// 失败也要释放在途键，否则这一章永远无法重试
	if len(inflight.released) != 1 {
		t.Errorf("released = %v", inflight.released)
	}
}

func TestSynthesizeChapterTimesOut(t *testing.T) {
	queries := 0
	inflight := newFakeInflight()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"status":0,"data":{"task_id":"tts-1"}}`)
			return
		}
		queries++
		fmt.Fprint(w, `{"status":0,"data":{"task_status":"Running"}}`)
	}), inflight)
	client.maxAttempts = 5

	_, err := client.SynthesizeChapter(context.Background(), "novel-1", 1, "正文")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskTimeout {
		t.Errorf("error code = %q", appErr.Code)
	}
	if queries != 5 {
		t.Errorf("queries = %d, want 5", queries)
	}
}

func TestSynthesizeChapterSubmitRejected(t *testing.T) {
	inflight := newFakeInflight()
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":2001,"message":"text too long"}`)
	}), inflight)

	_, err := client.SynthesizeChapter(context.Background(), "novel-1", 1, "正文")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskFailed {
		t.Errorf("error code = %q", appErr.Code)
	}
}
