package client

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

// GenerateRequest 网关生成请求体，images 为空时也要序列化为 []
type GenerateRequest struct {
	Prompt            string   `json:"prompt"`
	Images            []string `json:"images"`
	Instructions      string   `json:"instructions,omitempty"`
	NumInferenceSteps *int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	Width             *int     `json:"width,omitempty"`
	Height            *int     `json:"height,omitempty"`
}

// GenerateResponse 网关生成响应。images_url 是单个 URL
type GenerateResponse struct {
	Success   bool   `json:"success"`
	ImagesURL string `json:"images_url,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse 任务查询响应
type StatusResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// GatewayClient 调用生成网关的 HTTP 客户端
type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewGatewayClientFromConfig 从配置创建网关客户端
func NewGatewayClientFromConfig(cfg *common.Config) (*GatewayClient, error) {
	// 网关内部可能串行调用两个模型服务，客户端超时放宽一倍
	return NewGatewayClient(cfg.GatewayURL, cfg.GatewayAPIKey, 2*cfg.GenAITimeout())
}

// NewGatewayClient 创建网关客户端
func NewGatewayClient(baseURL, apiKey string, timeout time.Duration) (*GatewayClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("gateway url is required")
	}
	return &GatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		timeout:    timeout,
	}, nil
}

// WithParams 把非零的生成参数写入请求
func (r *GenerateRequest) WithParams(p genai.GenerationParams) *GenerateRequest {
	if p.NumInferenceSteps > 0 {
		r.NumInferenceSteps = &p.NumInferenceSteps
	}
	if p.GuidanceScale > 0 {
		r.GuidanceScale = &p.GuidanceScale
	}
	if p.Width > 0 {
		r.Width = &p.Width
	}
	if p.Height > 0 {
		r.Height = &p.Height
	}
	return r
}

// GenerateImage 调用 /generate-image。网关返回的失败响应不作为 error，
// 只有传输层或响应无法解析时返回 error
func (c *GatewayClient) GenerateImage(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	if req.Images == nil {
		req.Images = []string{}
	}
	var resp GenerateResponse
	if err := c.post(ctx, "/generate-image", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckTaskStatus 调用 /check-task-status
func (c *GatewayClient) CheckTaskStatus(ctx context.Context, taskID string) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.post(ctx, "/check-task-status", map[string]string{"task_id": taskID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *GatewayClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("apikey", c.apiKey)
	}

	common.WithField("url", c.baseURL+path).Debug("Calling generation gateway")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read gateway response: %w", err)
	}

	// 非 2xx 时网关仍返回 {success:false, error}，能解析就交给调用方
	if err := json.Unmarshal(respBody, out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, utils.TruncateForLog(string(respBody), 200))
		}
		return fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return nil
}
