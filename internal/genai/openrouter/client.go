package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/utils"
)

const (
	providerName = "openrouter"
	// 默认请求超时时间
	defaultTimeout = 120 * time.Second
	chatPath       = "/chat/completions"
)

// Client OpenRouter chat completion 客户端，作为主模型使用。
// 请求中带 response_format: {type: image_url}，要求模型返回图片
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	timeout    time.Duration
}

// Config OpenRouter 客户端配置
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	// 可选：自定义 HTTP 客户端（测试时注入）
	HTTPClient *http.Client
}

// NewClientFromConfig 从通用配置创建 OpenRouter 客户端
func NewClientFromConfig(cfg *common.Config) (*Client, error) {
	return NewClient(Config{
		BaseURL: cfg.OpenRouterBaseURL,
		APIKey:  cfg.OpenRouterAPIKey,
		Model:   cfg.OpenRouterModel,
		Timeout: cfg.GenAITimeout(),
	})
}

// NewClient 创建 OpenRouter 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("openrouter base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openrouter model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		timeout:    timeout,
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

// 请求结构
//
//	{
//	  "model": "google/gemini-2.5-flash-image-preview:free",
//	  "response_format": {"type": "image_url"},
//	  "messages": [{"role": "user", "content": [{"type": "text", "text": "..."}, {"type": "image_url", "image_url": {"url": "..."}}]}]
//	}
type chatRequest struct {
	Model          string         `json:"model"`
	ResponseFormat responseFormat `json:"response_format"`
	Messages       []chatMessage  `json:"messages"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentItem `json:"content"`
}

type contentItem struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// chatResponse 只解析需要的字段；choices[0].message 缺失视为结构错误
type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content json.RawMessage         `json:"content"`
			Images  []genai.ImageDescriptor `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

func buildRequest(model string, msg genai.Message) chatRequest {
	content := make([]contentItem, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		switch seg.Type {
		case genai.SegmentText:
			content = append(content, contentItem{Type: "text", Text: seg.Text})
		case genai.SegmentImage:
			content = append(content, contentItem{Type: "image_url", ImageURL: &imageRef{URL: seg.ImageURL}})
		}
	}

	role := msg.Role
	if role == "" {
		role = "user"
	}

	return chatRequest{
		Model:          model,
		ResponseFormat: responseFormat{Type: "image_url"},
		Messages:       []chatMessage{{Role: role, Content: content}},
	}
}

// Complete 调用 chat completion 接口，返回模型产出的图片描述
func (c *Client) Complete(ctx context.Context, msg genai.Message) (*genai.Completion, error) {
	common.WithFields(map[string]interface{}{
		"provider":    providerName,
		"model":       c.model,
		"image_count": len(msg.ImageURLs()),
		"text":        utils.TruncateForLog(msg.Text(), 200),
	}).Info("Calling primary provider")

	payload, err := json.Marshal(buildRequest(c.model, msg))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	url := c.baseURL + chatPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		common.WithFields(map[string]interface{}{
			"provider":    providerName,
			"status_code": resp.StatusCode,
			"url":         url,
			"body":        utils.TruncateForLog(string(body), 500),
		}).Error("Primary provider returned non-success status")
		return nil, &genai.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return parseResponse(body)
}

// parseResponse 结构不合法（缺少 choices/message）与合法但没有图片是两种情况：
// 前者返回 ProviderError，后者返回空的 Images
func parseResponse(body []byte) (*genai.Completion, error) {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		common.WithError(err).WithField("body", utils.TruncateForLog(string(body), 500)).Error("Failed to parse primary provider response")
		return nil, &genai.ProviderError{Provider: providerName, Reason: "malformed json", Err: err}
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message == nil {
		common.WithField("body", utils.TruncateForLog(string(body), 500)).Error("Primary provider response missing choices/message")
		return nil, &genai.ProviderError{Provider: providerName, Reason: "missing choices or message"}
	}

	message := parsed.Choices[0].Message
	completion := &genai.Completion{
		Images: message.Images,
		Text:   contentText(message.Content),
	}

	common.WithFields(map[string]interface{}{
		"provider":    providerName,
		"image_count": len(completion.Images),
	}).Debug("Primary provider responded")

	return completion, nil
}

// contentText content 可能是字符串、数组或 null，这里只取字符串形式
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
