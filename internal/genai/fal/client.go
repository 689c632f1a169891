package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	providerName        = "fal"
	defaultTimeout      = 120 * time.Second
	defaultPollInterval = time.Second
)

// Client fal 队列接口客户端，作为备用图片生成服务。
//
// 队列接口流程：
//   - 提交：POST {queue}/{model}，返回 request_id / status_url / response_url
//   - 状态：GET {queue}/{app}/requests/{request_id}/status
//   - 结果：GET {queue}/{app}/requests/{request_id}
//
// 其中 app 为 model 的前两段，例如 fal-ai/nano-banana/edit 的 app 为 fal-ai/nano-banana。
type Client struct {
	httpClient   *http.Client
	queueURL     string
	apiKey       string
	genModel     string
	editModel    string
	pollInterval time.Duration
	timeout      time.Duration
}

// Config fal 客户端配置
type Config struct {
	QueueURL  string
	APIKey    string
	GenModel  string // 文生图模型，例如 fal-ai/nano-banana
	EditModel string // 参考图编辑模型，例如 fal-ai/nano-banana/edit

	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// NewClientFromConfig 从通用配置创建 fal 客户端
func NewClientFromConfig(cfg *common.Config) (*Client, error) {
	return NewClient(Config{
		QueueURL:     cfg.FalQueueURL,
		APIKey:       cfg.FalKey,
		GenModel:     cfg.FalGenerateModel,
		EditModel:    cfg.FalEditModel,
		PollInterval: cfg.FalPollEvery(),
		Timeout:      cfg.GenAITimeout(),
	})
}

// NewClient 创建 fal 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("fal queue URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("fal API key is required")
	}
	if cfg.GenModel == "" || cfg.EditModel == "" {
		return nil, fmt.Errorf("fal generate and edit models are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient:   httpClient,
		queueURL:     strings.TrimRight(cfg.QueueURL, "/"),
		apiKey:       cfg.APIKey,
		genModel:     cfg.GenModel,
		editModel:    cfg.EditModel,
		pollInterval: pollInterval,
		timeout:      timeout,
	}, nil
}

func (c *Client) Name() string {
	return providerName
}

// submitResponse 提交任务的返回
type submitResponse struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// statusResponse 任务状态
type statusResponse struct {
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
}

// resultResponse 任务结果，images[] 为 {url, content_type, ...}
type resultResponse struct {
	Images      []genai.ImageDescriptor `json:"images"`
	Description string                  `json:"description,omitempty"`
}

// Edit 以参考图片生成
func (c *Client) Edit(ctx context.Context, prompt string, imageURLs []string, params genai.GenerationParams) ([]genai.ImageDescriptor, error) {
	input := buildInput(prompt, params)
	input["image_urls"] = imageURLs
	return c.subscribe(ctx, c.editModel, input)
}

// TextToImage 仅以 prompt 生成
func (c *Client) TextToImage(ctx context.Context, prompt string, params genai.GenerationParams) ([]genai.ImageDescriptor, error) {
	return c.subscribe(ctx, c.genModel, buildInput(prompt, params))
}

// buildInput 只写入设置过的可选参数
func buildInput(prompt string, params genai.GenerationParams) map[string]interface{} {
	input := map[string]interface{}{
		"prompt":     prompt,
		"num_images": 1,
	}
	if params.NumInferenceSteps > 0 {
		input["num_inference_steps"] = params.NumInferenceSteps
	}
	if params.GuidanceScale > 0 {
		input["guidance_scale"] = params.GuidanceScale
	}
	if params.Width > 0 && params.Height > 0 {
		input["image_size"] = map[string]int{
			"width":  params.Width,
			"height": params.Height,
		}
	}
	return input
}

// subscribe 提交任务并轮询直到完成，返回生成的图片
func (c *Client) subscribe(ctx context.Context, model string, input map[string]interface{}) ([]genai.ImageDescriptor, error) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	submitted, err := c.submit(ctx, model, input)
	if err != nil {
		return nil, err
	}

	app := appID(model)
	statusURL := submitted.StatusURL
	if statusURL == "" {
		statusURL = c.requestURL(app, submitted.RequestID) + "/status"
	}
	responseURL := submitted.ResponseURL
	if responseURL == "" {
		responseURL = c.requestURL(app, submitted.RequestID)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, err := c.status(ctx, statusURL)
		if err != nil {
			return nil, err
		}

		common.WithFields(map[string]interface{}{
			"provider":       providerName,
			"request_id":     submitted.RequestID,
			"status":         status.Status,
			"queue_position": status.QueuePosition,
		}).Debug("Polled secondary provider task")

		switch genai.TaskState(strings.ToUpper(status.Status)) {
		case genai.TaskCompleted:
			result, err := c.result(ctx, responseURL)
			if err != nil {
				return nil, err
			}
			common.WithFields(map[string]interface{}{
				"provider":    providerName,
				"request_id":  submitted.RequestID,
				"image_count": len(result.Images),
			}).Info("Secondary provider task completed")
			return result.Images, nil
		case genai.TaskFailed:
			return nil, &genai.ProviderError{Provider: providerName, Reason: "task failed: " + submitted.RequestID}
		}

		select {
		case <-ctx.Done():
			return nil, &genai.ProviderError{Provider: providerName, Reason: "waiting for task " + submitted.RequestID, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// CheckTask 查询任务状态；任务完成时附带生成结果
func (c *Client) CheckTask(ctx context.Context, taskID string) (*genai.TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &genai.ValidationError{Field: "task_id", Reason: "required"}
	}

	app := appID(c.genModel)
	status, err := c.status(ctx, c.requestURL(app, taskID)+"/status")
	if err != nil {
		return nil, err
	}

	out := &genai.TaskStatus{
		TaskID: taskID,
		State:  genai.TaskState(strings.ToUpper(status.Status)),
	}
	if out.State != genai.TaskCompleted {
		return out, nil
	}

	result, err := c.result(ctx, c.requestURL(app, taskID))
	if err != nil {
		var perr *genai.ProviderError
		if errors.As(err, &perr) && perr.StatusCode != 0 {
			// 任务完成但结果请求失败，说明任务本身执行失败
			out.State = genai.TaskFailed
			out.Error = perr.Body
			return out, nil
		}
		return nil, err
	}
	out.Images = result.Images
	return out, nil
}

func (c *Client) requestURL(app, requestID string) string {
	return fmt.Sprintf("%s/%s/requests/%s", c.queueURL, app, requestID)
}

func (c *Client) submit(ctx context.Context, model string, input map[string]interface{}) (*submitResponse, error) {
	common.WithFields(map[string]interface{}{
		"provider": providerName,
		"model":    model,
		"prompt":   utils.TruncateForLog(fmt.Sprint(input["prompt"]), 200),
	}).Info("Submitting secondary provider task")

	body, err := c.doRequest(ctx, http.MethodPost, c.queueURL+"/"+model, input)
	if err != nil {
		return nil, err
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "malformed submit response", Err: err}
	}
	if resp.RequestID == "" {
		common.WithField("body", utils.TruncateForLog(string(body), 500)).Error("Secondary provider submit response missing request_id")
		return nil, &genai.ProviderError{Provider: providerName, Reason: "submit response missing request_id"}
	}
	return &resp, nil
}

func (c *Client) status(ctx context.Context, url string) (*statusResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "malformed status response", Err: err}
	}
	if resp.Status == "" {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "status response missing status"}
	}
	return &resp, nil
}

func (c *Client) result(ctx context.Context, url string) (*resultResponse, error) {
	body, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var resp resultResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "malformed result response", Err: err}
	}
	return &resp, nil
}

// doRequest 统一封装 HTTP 请求逻辑
func (c *Client) doRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	// fal 使用 "Key <api key>" 认证
	req.Header.Set("Authorization", "Key "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &genai.ProviderError{Provider: providerName, Reason: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		common.WithFields(map[string]interface{}{
			"provider":    providerName,
			"status_code": resp.StatusCode,
			"url":         url,
			"body":        utils.TruncateForLog(string(respBody), 500),
		}).Error("Secondary provider returned non-success status")
		return nil, &genai.ProviderError{Provider: providerName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// appID 取 model 的前两段作为队列 app
func appID(model string) string {
	parts := strings.SplitN(model, "/", 3)
	if len(parts) < 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}
