package genai

import "context"

// Completion 主模型的一次调用结果。Images 为空表示模型选择只回复文本
type Completion struct {
	Images []ImageDescriptor
	Text   string
}

// PrimaryIface 主模型：chat completion 风格的多模态接口。
// 非 2xx 或结构不合法时返回 *ProviderError
type PrimaryIface interface {
	Name() string
	Complete(ctx context.Context, msg Message) (*Completion, error)
}

// GenerationParams 可选的生成参数，零值表示不设置
type GenerationParams struct {
	NumInferenceSteps int
	GuidanceScale     float64
	Width             int
	Height            int
}

// TaskState 异步任务状态
type TaskState string

const (
	TaskQueued     TaskState = "IN_QUEUE"
	TaskInProgress TaskState = "IN_PROGRESS"
	TaskCompleted  TaskState = "COMPLETED"
	TaskFailed     TaskState = "FAILED"
)

// TaskStatus 异步任务查询结果
type TaskStatus struct {
	TaskID string
	State  TaskState
	Images []ImageDescriptor
	Error  string
}

// SecondaryIface 备用图片生成服务，仅在主模型没有产出图片时调用
type SecondaryIface interface {
	Name() string
	// Edit 以参考图片 + prompt 生成
	Edit(ctx context.Context, prompt string, imageURLs []string, params GenerationParams) ([]ImageDescriptor, error)
	// TextToImage 仅以 prompt 生成
	TextToImage(ctx context.Context, prompt string, params GenerationParams) ([]ImageDescriptor, error)
}

// TaskCheckerIface 查询异步生成任务
type TaskCheckerIface interface {
	CheckTask(ctx context.Context, taskID string) (*TaskStatus, error)
}
