package gateway

import (
	"context"
	"fmt"
	"strings"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/genai"

	"github.com/sirupsen/logrus"
)

// DefaultInstructions 请求未提供 instructions 时使用
const DefaultInstructions = "Generate an image."

// CleanerIface 清理输入图片，不返回错误
type CleanerIface interface {
	Cleanup(ctx context.Context, urls []string)
}

// Request 一次生成请求
type Request struct {
	Prompt       string
	ImageURLs    []string
	Instructions string
	Params       genai.GenerationParams
}

// Result 生成成功的结果
type Result struct {
	ImageURL  string   // 第一张图片，作为规范结果
	ImageURLs []string // 归一化后的全部图片
	Provider  string   // 实际产出图片的服务
	Message   string
}

// Service 生成网关：组装多模态消息，调用主模型，无图时回退到备用服务，
// 最后清理输入图片
type Service struct {
	primary      genai.PrimaryIface
	secondary    genai.SecondaryIface
	tasks        genai.TaskCheckerIface
	cleaner      CleanerIface
	instructions string
}

// Option Service 可选配置
type Option func(*Service)

// WithInstructions 覆盖默认指令
func WithInstructions(instructions string) Option {
	return func(s *Service) {
		if instructions != "" {
			s.instructions = instructions
		}
	}
}

// WithTaskChecker 启用异步任务查询
func WithTaskChecker(tasks genai.TaskCheckerIface) Option {
	return func(s *Service) {
		s.tasks = tasks
	}
}

// NewService 创建生成网关
func NewService(primary genai.PrimaryIface, secondary genai.SecondaryIface, cleaner CleanerIface, opts ...Option) (*Service, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary provider is required")
	}
	if secondary == nil {
		return nil, fmt.Errorf("secondary provider is required")
	}
	if cleaner == nil {
		return nil, fmt.Errorf("cleaner is required")
	}

	s := &Service{
		primary:      primary,
		secondary:    secondary,
		cleaner:      cleaner,
		instructions: DefaultInstructions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Generate 执行一次生成。无论成功失败，输入图片都会在返回前清理一次
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	inputs := append([]string(nil), req.ImageURLs...)
	defer s.cleanup(ctx, inputs)

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, &genai.ValidationError{Field: "prompt", Reason: "prompt is required"}
	}

	instructions := req.Instructions
	if instructions == "" {
		instructions = s.instructions
	}
	msg := genai.BuildMessage(instructions, req.Prompt, inputs)

	logger := common.WithFields(map[string]interface{}{
		"primary":     s.primary.Name(),
		"image_count": len(inputs),
	})
	logger.Info("Generation request received")

	completion, err := s.primary.Complete(ctx, msg)
	if err != nil {
		// 主模型 HTTP 错误或结构错误不回退
		logger.WithError(err).Error("Primary provider failed")
		return nil, err
	}

	provider := s.primary.Name()
	urls, err := resolveURLs(logger, provider, completion.Images)
	if len(urls) == 0 {
		// 主模型没有可用图片（空列表或全部无法识别）时回退
		logger.WithError(err).WithField("text", completion.Text).Warn("Primary provider returned no usable image, falling back")
		images, err := s.fallback(ctx, req.Prompt, inputs, req.Params)
		if err != nil {
			logger.WithError(err).Error("Secondary provider failed")
			return nil, err
		}
		provider = s.secondary.Name()
		urls, err = resolveURLs(logger, provider, images)
		if err != nil {
			return nil, &genai.ProviderError{Provider: provider, Reason: "unexpected image layout", Err: err}
		}
		if len(urls) == 0 {
			return nil, genai.ErrNoImage
		}
	}

	logger.WithFields(map[string]interface{}{
		"provider":     provider,
		"output_count": len(urls),
	}).Info("Image generated")

	return &Result{
		ImageURL:  urls[0],
		ImageURLs: urls,
		Provider:  provider,
		Message:   "Image generated successfully",
	}, nil
}

// resolveURLs 跳过无法识别的条目并记录日志；err 仅在没有任何可用 URL 时非空
func resolveURLs(logger *logrus.Entry, provider string, images []genai.ImageDescriptor) ([]string, error) {
	urls, err := genai.NormalizeURLs(images)
	if skipped := len(images) - len(urls); skipped > 0 {
		logger.WithFields(map[string]interface{}{
			"provider": provider,
			"skipped":  skipped,
		}).Warn("Skipped image descriptors with unrecognized layout")
	}
	return urls, err
}

// fallback 有输入图片时用 edit，否则用文生图
func (s *Service) fallback(ctx context.Context, prompt string, inputs []string, params genai.GenerationParams) ([]genai.ImageDescriptor, error) {
	if len(inputs) > 0 {
		return s.secondary.Edit(ctx, prompt, inputs, params)
	}
	return s.secondary.TextToImage(ctx, prompt, params)
}

// cleanup 在 provider 调用结束后执行；请求被取消也要删除
func (s *Service) cleanup(ctx context.Context, urls []string) {
	if len(urls) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			common.Errorf("input cleanup panicked: %v", r)
		}
	}()
	s.cleaner.Cleanup(context.WithoutCancel(ctx), urls)
}

// TaskStatus 任务查询结果
type TaskStatus struct {
	TaskID   string
	State    genai.TaskState
	ImageURL string
	Error    string
}

// CheckStatus 查询异步生成任务
func (s *Service) CheckStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, &genai.ValidationError{Field: "task_id", Reason: "task_id is required"}
	}
	if s.tasks == nil {
		return nil, fmt.Errorf("task status checking is not configured")
	}

	status, err := s.tasks.CheckTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	out := &TaskStatus{
		TaskID: taskID,
		State:  status.State,
		Error:  status.Error,
	}
	if status.State == genai.TaskCompleted {
		urls, err := genai.NormalizeURLs(status.Images)
		if err != nil {
			return nil, &genai.ProviderError{Provider: s.secondary.Name(), Reason: "unexpected image layout", Err: err}
		}
		if len(urls) == 0 {
			return nil, genai.ErrNoImage
		}
		out.ImageURL = urls[0]
	}
	return out, nil
}
