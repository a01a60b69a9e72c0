// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"protoforge/internal/config"
	"protoforge/pkg/log"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultTimeout = 120 * time.Second

// Client defines the interface for an LLM client.
type Client interface {
	// Invoke 发送一次请求/响应交互，失败时返回 *Error。
	Invoke(ctx context.Context, prompt, model string) (*Response, error)
}

// Response 是一次 LLM 调用的结果。
type Response struct {
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

type openAICompatibleClient struct {
	cfg     config.LLMConfig
	client  *http.Client
	timeout time.Duration
}

// NewClient creates a new LLM client. The underlying http.Client is shared by
// all callers and safe for concurrent use.
func NewClient(cfg config.LLMConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &openAICompatibleClient{
		cfg:     cfg,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Created int64 `json:"created"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Invoke calls the OpenAI-compatible chat completions API without streaming.
func (c *openAICompatibleClient) Invoke(ctx context.Context, prompt, model string) (*Response, error) {
	if model == "" {
		model = c.cfg.Model
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:    model,
		Messages: []Message{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	// 从全局配置注入生成参数（若非零值）
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &Error{Kind: MalformedResponse, Err: fmt.Errorf("failed to marshal chat request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, &Error{Kind: Unreachable, Err: fmt.Errorf("failed to create chat request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	log.Infof("[LLMClient] 调用 LLM, model: %s, prompt_len: %d", model, len(prompt))
	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		lerr := classifyTransportError(fmt.Errorf("failed to call chat api: %w", err))
		log.Errorf("[LLMClient] 调用 LLM 失败, kind: %s, error: %v", lerr.Kind, err)
		return nil, lerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(fmt.Errorf("failed to read chat response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Errorf("[LLMClient] LLM 返回非 2xx 状态码: %s", resp.Status)
		return nil, &Error{Kind: Unreachable, Err: fmt.Errorf("chat api returned status %s, body: %s", resp.Status, truncate(string(body), 512))}
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, &Error{Kind: MalformedResponse, Err: fmt.Errorf("failed to decode chat response: %w", err)}
	}
	if len(chat.Choices) == 0 || strings.TrimSpace(chat.Choices[0].Message.Content) == "" {
		return nil, &Error{Kind: MalformedResponse, Err: fmt.Errorf("chat response contains no content")}
	}

	respTime := time.Now()
	if chat.Created > 0 {
		respTime = time.Unix(chat.Created, 0)
	}
	log.Infof("[LLMClient] LLM 调用成功, model: %s, 耗时: %s, response_len: %d", model, time.Since(start), len(chat.Choices[0].Message.Content))
	return &Response{Text: chat.Choices[0].Message.Content, Time: respTime}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// 回退到 rune 边界，避免截断多字节字符
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
