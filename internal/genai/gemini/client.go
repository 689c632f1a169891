package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/utils"

	googlegenai "google.golang.org/genai"
)

const (
	providerName   = "gemini"
	defaultTimeout = 120 * time.Second
)

// Client 基于 Gemini SDK 的主模型实现，可替代 OpenRouter
type Client struct {
	client  *googlegenai.Client
	model   string
	timeout time.Duration
}

// Config Gemini 客户端配置
type Config struct {
	APIKey    string // API Key
	BaseURL   string // 自定义 Base URL，如果为空则使用默认值
	ModelName string // 模型名称，例如：gemini-2.5-flash-image-preview
	Timeout   time.Duration
}

// NewClientFromConfig 从通用配置创建 Gemini 客户端
func NewClientFromConfig(cfg *common.Config) (*Client, error) {
	return NewClient(Config{
		APIKey:    cfg.GeminiAPIKey,
		BaseURL:   cfg.GeminiBaseURL,
		ModelName: cfg.GeminiModel,
		Timeout:   cfg.GenAITimeout(),
	})
}

// NewClient 创建新的 Gemini 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	clientConfig := &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = googlegenai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		}
	}

	client, err := googlegenai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		client:  client,
		model:   cfg.ModelName,
		timeout: timeout,
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

// Complete 调用 GenerateContent，要求同时返回文本和图片
func (c *Client) Complete(ctx context.Context, msg genai.Message) (*genai.Completion, error) {
	common.WithFields(map[string]interface{}{
		"provider":    providerName,
		"model":       c.model,
		"image_count": len(msg.ImageURLs()),
		"text":        utils.TruncateForLog(msg.Text(), 200),
	}).Info("Calling primary provider")

	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	parts, err := buildParts(ctx, msg)
	if err != nil {
		return nil, err
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, []*googlegenai.Content{
		googlegenai.NewContentFromParts(parts, googlegenai.RoleUser),
	}, &googlegenai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	})
	if err != nil {
		common.WithError(err).WithField("model", c.model).Error("Failed to call Gemini API")
		return nil, toProviderError(err)
	}

	return parseResponse(result)
}

// buildParts 图片片段需要转成内联数据：data URI 直接解码，http(s) 地址先下载
func buildParts(ctx context.Context, msg genai.Message) ([]*googlegenai.Part, error) {
	parts := make([]*googlegenai.Part, 0, len(msg.Segments))
	for _, seg := range msg.Segments {
		switch seg.Type {
		case genai.SegmentText:
			parts = append(parts, googlegenai.NewPartFromText(seg.Text))
		case genai.SegmentImage:
			data, mimeType, err := loadImage(ctx, seg.ImageURL)
			if err != nil {
				common.WithError(err).WithField("image_url", utils.TruncateForLog(seg.ImageURL, 120)).Error("Failed to load input image for Gemini")
				return nil, fmt.Errorf("failed to load input image: %w", err)
			}
			parts = append(parts, &googlegenai.Part{InlineData: &googlegenai.Blob{Data: data, MIMEType: mimeType}})
		}
	}
	return parts, nil
}

func loadImage(ctx context.Context, ref string) ([]byte, string, error) {
	if utils.IsDataURI(ref) {
		return decodeDataURI(ref)
	}
	return utils.DownloadImageFromURL(ctx, ref)
}

// decodeDataURI 解析 data:{mime};base64,{data}
func decodeDataURI(uri string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URI format")
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode base64 data: %w", err)
	}
	return data, mimeType, nil
}

// parseResponse 没有 candidate 或 content 为结构错误；只有文本时返回空 Images
func parseResponse(result *googlegenai.GenerateContentResponse) (*genai.Completion, error) {
	if result == nil || len(result.Candidates) == 0 {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "no candidates in response"}
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "no content in candidate"}
	}

	completion := &genai.Completion{}
	var text []string
	for _, part := range candidate.Content.Parts {
		switch {
		case part.InlineData != nil:
			dataURI := fmt.Sprintf("data:%s;base64,%s", part.InlineData.MIMEType, base64.StdEncoding.EncodeToString(part.InlineData.Data))
			completion.Images = append(completion.Images, genai.BareImage(dataURI))
		case part.FileData != nil && part.FileData.FileURI != "":
			completion.Images = append(completion.Images, genai.BareImage(part.FileData.FileURI))
		case part.Text != "":
			text = append(text, part.Text)
		}
	}
	completion.Text = strings.Join(text, "\n")
	return completion, nil
}

// toProviderError 保留 Gemini 返回的 HTTP 状态码
func toProviderError(err error) error {
	var apiErr googlegenai.APIError
	if errors.As(err, &apiErr) {
		return &genai.ProviderError{Provider: providerName, StatusCode: apiErr.Code, Body: apiErr.Message, Err: err}
	}
	var apiErrPtr *googlegenai.APIError
	if errors.As(err, &apiErrPtr) {
		return &genai.ProviderError{Provider: providerName, StatusCode: apiErrPtr.Code, Body: apiErrPtr.Message, Err: err}
	}
	return &genai.ProviderError{Provider: providerName, Reason: "request failed", Err: err}
}
