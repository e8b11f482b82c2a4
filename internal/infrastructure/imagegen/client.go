// Package imagegen 提供封面图片生成任务客户端
package imagegen

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

var tracer = otel.Tracer("imagegen")

// 封面任务的轮询预算，约 90 秒。与配音任务的预算不同，
// 两边上游延迟特征不一样，不要合并成统一常量。
const (
	pollMaxAttempts = 30
	pollInterval    = 3 * time.Second
)

// CoverGenerator 封面生成接口
type CoverGenerator interface {
	Submit(ctx context.Context, prompt string) (string, error)
	PollUntilDone(ctx context.Context, taskID string) (string, error)
}

// Client 图片生成任务客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	maxAttempts int
	interval    time.Duration
}

// NewClient 创建图片生成客户端
func NewClient(cfg *config.ImageGenConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: pollMaxAttempts,
		interval:    pollInterval,
	}
}

type submitRequest struct {
	Prompt string `json:"prompt"`
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
		TaskStatus         string `json:"task_status"`
		TaskProgressDetail int    `json:"task_progress_detail"`
		SubTaskResultList  []struct {
			FinalImageList []struct {
				ImgURL string `json:"img_url"`
			} `json:"final_image_list"`
		} `json:"sub_task_result_list"`
	} `json:"data"`
}

// Submit 提交图片生成任务，响应体 status 非零视为硬失败
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "imagegen.Submit")
	defer span.End()

	var out submitResponse
	if err := c.postJSON(ctx, c.baseURL+"/v1/images/tasks", submitRequest{Prompt: prompt}, &out); err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, errors.CodeUpstreamError, "cover task submit failed")
	}
	if out.Status != 0 {
		err := errors.New(errors.CodeTaskFailed, "cover task rejected").WithDetail(out.Message)
		span.RecordError(err)
		return "", err
	}
	if strings.TrimSpace(out.Data.TaskID) == "" {
		return "", errors.New(errors.CodeEmptyTaskResult, "cover task submit returned no task id")
	}
	return out.Data.TaskID, nil
}

// PollUntilDone 轮询任务直到终态
// 成功时返回第一个子任务的第一张图片地址；显式失败立即报错；
// 轮询过程中的网络类错误吞掉继续，只有最后一次尝试才上抛。
func (c *Client) PollUntilDone(ctx context.Context, taskID string) (string, error) {
	ctx, span := tracer.Start(ctx, "imagegen.PollUntilDone")
	defer span.End()

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		task, err := c.query(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", errors.Cancelled(ctx.Err())
			}
			if attempt == c.maxAttempts {
				span.RecordError(err)
				metrics.TaskResolutionTotal.WithLabelValues("cover", "failed").Inc()
				return "", errors.Wrap(err, errors.CodeUpstreamError, "cover task query failed")
			}
			logger.Warn(ctx, "cover task query failed, keep polling",
				"task_id", taskID, "attempt", attempt, "error", err.Error())
		} else {
			switch task.State {
			case entity.TaskSucceeded:
				metrics.TaskPollAttempts.WithLabelValues("cover").Observe(float64(attempt))
				metrics.TaskResolutionTotal.WithLabelValues("cover", "succeeded").Inc()
				if task.ResultURL == "" {
					// 上游报成功但没给图，这不能静默放过
					err := errors.New(errors.CodeEmptyTaskResult, "cover task succeeded without image url")
					span.RecordError(err)
					return "", err
				}
				return task.ResultURL, nil
			case entity.TaskFailed:
				metrics.TaskResolutionTotal.WithLabelValues("cover", "failed").Inc()
				err := errors.New(errors.CodeTaskFailed, "cover task failed").WithDetail(task.Error)
				span.RecordError(err)
				return "", err
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

	metrics.TaskResolutionTotal.WithLabelValues("cover", "timeout").Inc()
	err := errors.New(errors.CodeTaskTimeout, "cover task did not finish in time").
		WithDetail(fmt.Sprintf("task_id=%s attempts=%d", taskID, c.maxAttempts))
	span.RecordError(err)
	return "", err
}

// query 查询一次任务状态，并在边界处归一化外部词表
func (c *Client) query(ctx context.Context, taskID string) (*entity.GenerationTask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/images/tasks/"+taskID, nil)
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
		return nil, fmt.Errorf("image task query returned %d", resp.StatusCode)
	}

	var out queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode image task response: %w", err)
	}
	if out.Status != 0 {
		return &entity.GenerationTask{
			TaskID: taskID,
			State:  entity.TaskFailed,
			Error:  out.Message,
		}, nil
	}

	task := &entity.GenerationTask{
		TaskID:   taskID,
		State:    entity.TaskStateFromImage(out.Data.TaskStatus),
		Progress: out.Data.TaskProgressDetail,
	}
	if len(out.Data.SubTaskResultList) > 0 && len(out.Data.SubTaskResultList[0].FinalImageList) > 0 {
		task.ResultURL = out.Data.SubTaskResultList[0].FinalImageList[0].ImgURL
	}
	return task, nil
}

func (c *Client) postJSON(ctx context.Context, url string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("image endpoint returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
