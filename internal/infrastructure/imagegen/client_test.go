package imagegen

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "storyforge-api/pkg/errors"
)

func testClient(t *testing.T, handler http.Handler, maxAttempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{
		baseURL:     srv.URL,
		httpClient:  srv.Client(),
		maxAttempts: maxAttempts,
		interval:    time.Millisecond,
	}
}

func queryBody(status, url string) string {
	if url == "" {
		return fmt.Sprintf(`{"status":0,"data":{"task_status":"%s"}}`, status)
	}
	return fmt.Sprintf(
		`{"status":0,"data":{"task_status":"%s","sub_task_result_list":[{"final_image_list":[{"img_url":"%s"}]}]}}`,
		status, url,
	)
}

func TestSubmitReturnsTaskID(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/images/tasks" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, `{"status":0,"data":{"task_id":"task-42"}}`)
	}), 3)

	taskID, err := client.Submit(context.Background(), "封面提示词")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if taskID != "task-42" {
		t.Errorf("taskID = %q", taskID)
	}
}

func TestSubmitRejectedByUpstream(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":1001,"message":"prompt blocked"}`)
	}), 3)

	_, err := client.Submit(context.Background(), "提示词")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskFailed {
		t.Errorf("error code = %q, want %q", appErr.Code, apperrors.CodeTaskFailed)
	}
}

func TestPollUntilDoneSuccessAfterRunning(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			fmt.Fprint(w, queryBody("WAIT", ""))
		case 2:
			fmt.Fprint(w, queryBody("RUNNING", ""))
		default:
			fmt.Fprint(w, queryBody("SUCCESS", "https://img.example.com/1.png"))
		}
	}), 10)

	url, err := client.PollUntilDone(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("PollUntilDone() error = %v", err)
	}
	if url != "https://img.example.com/1.png" {
		t.Errorf("url = %q", url)
	}
	if calls != 3 {
		t.Errorf("query calls = %d, want 3", calls)
	}
}

func TestPollUntilDoneFailedStopsImmediately(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, queryBody("FAILED", ""))
	}), 10)

	_, err := client.PollUntilDone(context.Background(), "task-1")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskFailed {
		t.Errorf("error code = %q", appErr.Code)
	}
	if calls != 1 {
		t.Errorf("query calls = %d, want 1 (failure is terminal)", calls)
	}
}

func TestPollUntilDoneSuccessWithoutURL(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, queryBody("SUCCESS", ""))
	}), 3)

	_, err := client.PollUntilDone(context.Background(), "task-1")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeEmptyTaskResult {
		t.Errorf("error code = %q, want %q", appErr.Code, apperrors.CodeEmptyTaskResult)
	}
}

func TestPollUntilDoneTimesOut(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, queryBody("RUNNING", ""))
	}), 4)

	_, err := client.PollUntilDone(context.Background(), "task-1")
	if appErr := apperrors.AsAppError(err); appErr.Code != apperrors.CodeTaskTimeout {
		t.Errorf("error code = %q, want %q", appErr.Code, apperrors.CodeTaskTimeout)
	}
	if calls != 4 {
		t.Errorf("query calls = %d, want 4 (full budget)", calls)
	}
}

func TestPollUntilDoneSwallowsTransientErrors(t *testing.T) {
	calls := 0
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "gateway hiccup", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, queryBody("SUCCESS", "https://img.example.com/2.png"))
	}), 10)

	url, err := client.PollUntilDone(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("transient errors should be retried: %v", err)
	}
	if url != "https://img.example.com/2.png" {
		t.Errorf("url = %q", url)
	}
}

func TestPollUntilDoneCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		fmt.Fprint(w, queryBody("RUNNING", ""))
	}), 10)

	_, err := client.PollUntilDone(ctx, "task-1")
	if !apperrors.IsCancelled(err) {
		t.Errorf("expected cancelled error, got %v", err)
	}
}
