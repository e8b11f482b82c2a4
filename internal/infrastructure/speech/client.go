// Package speech 提供章节配音任务客户端
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"storyforge-api/internal/config"
	"storyforge-api/internal/domain/entity"
	"storyforge-api/pkg/errors"
	"storyforge-api/pkg/logger"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("speech")

// 配音任务的轮询预算，约 10 分钟。长文本合成远慢于图片生成，
// 预算独立于封面任务，不要统一。
const (
	pollMaxAttempts = 200
	pollInterval    = 3 * time.Second
)

// InflightSet 在途任务去重集合
// 同一章节的配音任务在途期间不允许重复提交。
type InflightSet interface {
	// TryAcquire 尝试占用键；已被占用时返回 false
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放键
	Release(ctx context.Context, key string) error
}

// Synthesizer 配音接口
type Synthesizer interface {
	SynthesizeChapter(ctx context.Context, novelID string, chapterOrder int, text string) (string, error)
}

// Client 配音任务客户端
type Client struct {
	baseURL    string
	apiKey     string
	voice      string
	httpClient *http.Client
	inflight   InflightSet

	maxAttempts int
	interval    time.Duration
}

// NewClient 创建配音客户端
func NewClient(cfg *config.SpeechConfig, inflight InflightSet) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		voice:       cfg.Voice,
		httpClient:  &http.Client{Timeout: timeout},
		inflight:    inflight,
		maxAttempts: pollMaxAttempts,
		interval:    pollInterval,
	}
}

type submitRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type submitResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

type queryResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TaskStatus string `json:"task_status"`
		AudioURL   string `json:"audio_url"`
	} `json:"data"`
}

// SynthesizeChapter 为单章生成配音并等待完成，返回音频地址
// 同一章节的任务在途时直接返回冲突错误。
func (c *Client) SynthesizeChapter(ctx context.Context, novelID string, chapterOrder int, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "speech.SynthesizeChapter")
	defer span.End()

	key := fmt.Sprintf("speech:inflight:%s:%d", novelID, chapterOrder)
	ttl := time.Duration(c.maxAttempts)*c.interval + time.Minute
	if c.inflight != nil {
		ok, err := c.inflight.TryAcquire(ctx, key, ttl)
		if err != nil {
			return "", errors.Wrap(err, errors.CodeCacheError, "inflight check failed")
		}
		if !ok {
			return "", errors.New(errors.CodeGenerationBusy, "chapter audio already generating")
		}
		defer func() {
			if err := c.inflight.Release(context.WithoutCancel(ctx), key); err != nil {
				logger.Warn(ctx, "failed to release inflight key", "key", key, "error", err.Error())
			}
		}()
	}

	taskID, err := c.submit(ctx, text)
	if err != nil {
		return "", err
	}
	return c.pollUntilDone(ctx, taskID)
}

func (c *Client) submit(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(submitRequest{Text: text, Voice: c.voice})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/speech/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeUpstreamError, "speech task submit failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New(errors.CodeUpstreamError, fmt.Sprintf("speech endpoint returned %d", resp.StatusCode))
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, errors.CodeUpstreamError, "failed to decode speech submit response")
	}
	if out.Status != 0 {
		return "", errors.New(errors.CodeTaskFailed, "speech task rejected").WithDetail(out.Message)
	}
	if strings.TrimSpace(out.Data.TaskID) == "" {
		return "", errors.New(errors.CodeEmptyTaskResult, "speech task submit returned no task id")
	}
	return out.Data.TaskID, nil
}

func (c *Client) pollUntilDone(ctx context.Context, taskID string) (string, error) {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		task, err := c.query(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Cancelled(ctx.Err())
			}
			if attempt == c.maxAttempts {
				metrics.TaskResolutionTotal.WithLabelValues("audio", "failed").Inc()
				return "", errors.Wrap(err, errors.CodeUpstreamError, "speech task query failed")
			}
			logger.Warn(ctx, "speech task query failed, keep polling",
				"task_id", taskID, "attempt", attempt, "error", err.Error())
		} else {
			switch task.State {
			case entity.TaskSucceeded:
				metrics.TaskPollAttempts.WithLabelValues("audio").Observe(float64(attempt))
				metrics.TaskResolutionTotal.WithLabelValues("audio", "succeeded").Inc()
				if task.ResultURL == "" {
					return "", errors.New(errors.CodeEmptyTaskResult, "speech task succeeded without audio url")
				}
				return task.ResultURL, nil
			case entity.TaskFailed:
				metrics.TaskResolutionTotal.WithLabelValues("audio", "failed").Inc()
				return "", errors.New(errors.CodeTaskFailed, "speech task failed").WithDetail(task.Error)
			}
		}

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", errors.Cancelled(ctx.Err())
		case <-time.After(c.interval):
		}
	}

	metrics.TaskResolutionTotal.WithLabelValues("audio", "timeout").Inc()
	return "", errors.New(errors.CodeTaskTimeout, "speech task did not finish in time").
		WithDetail(fmt.Sprintf("task_id=%s attempts=%d", taskID, c.maxAttempts))
}

func (c *Client) query(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/speech/tasks/"+taskID, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech task query returned %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode speech task response: %w", err)
	}
	if out.Status != 0 {
		return &entity.GenerationTask{
			TaskID: taskID,
			State:  entity.TaskFailed,
			Error:  out.Message,
		}, nil
	}

	return &entity.GenerationTask{
		TaskID:    taskID,
		State:     entity.TaskStateFromSpeech(out.Data.TaskStatus),
		ResultURL: out.Data.AudioURL,
	}, nil
}
