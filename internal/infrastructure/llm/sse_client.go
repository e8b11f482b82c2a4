// Package llm 提供对话模型流式接口客户端
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"

	"storyforge-api/internal/config"
	"storyforge-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// StreamCallbacks 流式生成回调
// OnUpdate 每帧携带到目前为止累积的完整文本，调用方直接覆盖即可。
// OnComplete 与 OnError 互斥且各至多触发一次；上下文取消时两者都不触发。
type StreamCallbacks struct {
	OnUpdate   func(fullText string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

// ChatStreamer 流式对话接口
type ChatStreamer interface {
	Stream(ctx context.Context, messages []*schema.Message, cb StreamCallbacks)
}

// SSEClient 基于 server-sent events 的对话模型客户端
type SSEClient struct {
	baseURL        string
	apiKey         string
	model          string
	enableThinking bool
	httpClient     *http.Client
}

// NewSSEClient 创建 SSE 客户端
func NewSSEClient(cfg *config.LLMConfig) *SSEClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &SSEClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		model:          cfg.Model,
		enableThinking: cfg.EnableThinking,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []wireMessage `json:"messages"`
	Stream         bool          `json:"stream"`
	EnableThinking bool          `json:"enable_thinking"`
}

type chatStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream 发起流式对话请求
// 每收到一帧增量就以累积全文回调 OnUpdate；流正常结束回调 OnComplete；
// 传输或协议级错误回调 OnError；单帧解析失败静默跳过，不中断流。
func (c *SSEClient) Stream(ctx context.Context, messages []*schema.Message, cb StreamCallbacks) {
	ctx, span := tracer.Start(ctx, "llm.Stream")
	defer span.End()

	start := time.Now()
	done := false

	finishErr := func(err error) {
		if done {
			return
		}
		done = true
		span.RecordError(err)
		metrics.LLMStreamTotal.WithLabelValues("error").Inc()
		if cb.OnError != nil {
			cb.OnError(err)
		}
	}
	finishOK := func(fullText string) {
		if done {
			return
		}
		done = true
		metrics.LLMStreamTotal.WithLabelValues("complete").Inc()
		metrics.LLMStreamDuration.Observe(time.Since(start).Seconds())
		if cb.OnComplete != nil {
			cb.OnComplete(fullText)
		}
	}
	// 取消不算成功也不算失败，调用方必须把它当作第三种结果处理
	finishCancelled := func() {
		if done {
			return
		}
		done = true
		metrics.LLMStreamTotal.WithLabelValues("cancelled").Inc()
	}

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       toWireMessages(messages),
		Stream:         true,
		EnableThinking: c.enableThinking,
	})
	if err != nil {
		finishErr(fmt.Errorf("failed to encode chat request: %w", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		finishErr(fmt.Errorf("failed to build chat request: %w", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			finishCancelled()
			return
		}
		finishErr(fmt.Errorf("chat request failed: %w", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		finishErr(fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
		return
	}

	var acc strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			finishCancelled()
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			finishOK(acc.String())
			return
		}

		var frame chatStreamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// 坏帧直接跳过，不能让单帧毁掉整个流
			continue
		}
		if len(frame.Choices) == 0 {
			continue
		}
		delta := frame.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		acc.WriteString(delta)
		if cb.OnUpdate != nil {
			cb.OnUpdate(acc.String())
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			finishCancelled()
			return
		}
		finishErr(fmt.Errorf("chat stream read failed: %w", err))
		return
	}

	// 上游没发 [DONE] 就关了连接，按正常结束处理
	finishOK(acc.String())
}

func toWireMessages(messages []*schema.Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, wireMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}
