package client

import (
	"context"
	"errors"
	"strings"
	"sync"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/storage"
)

// genericFailureMessage 没有可展示的错误信息时使用
const genericFailureMessage = "unexpected error during generation"

var (
	// ErrEmptyPrompt prompt 去空白后为空，提交被拒绝
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrBusy 已有生成请求在进行中
	ErrBusy = errors.New("a generation is already pending")
	// ErrEmptyTaskID 查询任务时未提供 task_id
	ErrEmptyTaskID = errors.New("task_id is required")
)

// State 编排器对外可见的状态
type State int

const (
	StateIdle State = iota
	StatePending
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// UploaderIface 上传本地图片
type UploaderIface interface {
	Upload(ctx context.Context, localResource string) (*storage.UploadedImageRef, error)
}

// GatewayIface 生成网关
type GatewayIface interface {
	GenerateImage(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	CheckTaskStatus(ctx context.Context, taskID string) (*StatusResponse, error)
}

// CleanerIface 删除已上传的对象
type CleanerIface interface {
	Cleanup(ctx context.Context, urls []string)
}

// GenerationRequest 一次提交
type GenerationRequest struct {
	Prompt       string
	Images       []string // 本地路径或 file:// URI，按顺序上传
	Instructions string
	Params       genai.GenerationParams
}

// GenerationResult 提交结果。Async 表示网关只返回了 task_id
type GenerationResult struct {
	Success  bool
	ImageURL string
	TaskID   string
	Async    bool
	Status   string // 仅 CheckStatus 填写：服务端任务状态
	Error    string
}

// Snapshot 当前状态的只读副本
type Snapshot struct {
	State  State
	Result *GenerationResult
}

// Orchestrator 上传图片、调用网关并维护生成状态。
// 同一实例同一时刻只允许一个生成请求
type Orchestrator struct {
	uploader UploaderIface
	gateway  GatewayIface
	cleaner  CleanerIface

	// OnChange 状态变化时回调，在锁外调用
	OnChange func(Snapshot)

	mu     sync.Mutex
	state  State
	result *GenerationResult
}

// NewOrchestrator cleaner 可为 nil，此时上传中途失败不会回收已上传的图片
func NewOrchestrator(uploader UploaderIface, gateway GatewayIface, cleaner CleanerIface) *Orchestrator {
	return &Orchestrator{
		uploader: uploader,
		gateway:  gateway,
		cleaner:  cleaner,
	}
}

// Snapshot 返回当前状态
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	snap := Snapshot{State: o.state}
	if o.result != nil {
		r := *o.result
		snap.Result = &r
	}
	return snap
}

func (o *Orchestrator) transition(state State, result *GenerationResult) {
	o.mu.Lock()
	o.state = state
	o.result = result
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

func (o *Orchestrator) notify(snap Snapshot) {
	if o.OnChange != nil {
		o.OnChange(snap)
	}
}

// Reset settled 回到 idle；pending 时不做任何事
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	if o.state != StateSettled {
		o.mu.Unlock()
		return
	}
	o.state = StateIdle
	o.result = nil
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// Submit 提交一次生成。被拒绝时返回 ErrEmptyPrompt 或 ErrBusy 且不发起任何调用；
// 其余失败都体现在 GenerationResult 中
func (o *Orchestrator) Submit(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	o.mu.Lock()
	if o.state == StatePending {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.state = StatePending
	o.result = nil
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	result := o.runSafely(ctx, req)
	o.transition(StateSettled, result)

	r := *result
	return &r, nil
}

// runSafely 上传或网关调用 panic 时同样以失败结束，保证状态不会停在 pending
func (o *Orchestrator) runSafely(ctx context.Context, req GenerationRequest) (result *GenerationResult) {
	defer func() {
		if r := recover(); r != nil {
			common.Errorf("generation panicked: %v", r)
			result = failure(genericFailureMessage)
		}
	}()
	return o.run(ctx, req)
}

func (o *Orchestrator) run(ctx context.Context, req GenerationRequest) *GenerationResult {
	logger := common.WithField("image_count", len(req.Images))

	urls, err := o.uploadAll(ctx, req.Images)
	if err != nil {
		logger.WithError(err).Error("Image upload failed, generation aborted")
		return failure(err.Error())
	}

	gwReq := (&GenerateRequest{
		Prompt:       req.Prompt,
		Images:       urls,
		Instructions: req.Instructions,
	}).WithParams(req.Params)

	resp, err := o.gateway.GenerateImage(ctx, gwReq)
	if err != nil {
		logger.WithError(err).Error("Gateway call failed")
		return failure(err.Error())
	}

	if !resp.Success {
		logger.WithField("error", resp.Error).Warn("Gateway reported failure")
		return failure(resp.Error)
	}

	switch {
	case resp.ImagesURL != "":
		logger.WithField("image_url", resp.ImagesURL).Info("Generation succeeded")
		return &GenerationResult{Success: true, ImageURL: resp.ImagesURL, TaskID: resp.TaskID}
	case resp.TaskID != "":
		logger.WithField("task_id", resp.TaskID).Info("Generation accepted as async task")
		return &GenerationResult{Success: true, TaskID: resp.TaskID, Async: true}
	default:
		return failure("gateway returned neither an image nor a task id")
	}
}

// uploadAll 按顺序上传；任一失败时回收本次已上传的图片
func (o *Orchestrator) uploadAll(ctx context.Context, images []string) ([]string, error) {
	urls := make([]string, 0, len(images))
	for _, img := range images {
		ref, err := o.uploader.Upload(ctx, img)
		if err != nil {
			if o.cleaner != nil && len(urls) > 0 {
				o.cleaner.Cleanup(context.WithoutCancel(ctx), urls)
			}
			return nil, err
		}
		urls = append(urls, ref.PublicURL)
	}
	return urls, nil
}

// CheckStatus 查询异步任务，不改变编排器状态
func (o *Orchestrator) CheckStatus(ctx context.Context, taskID string) (*GenerationResult, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, ErrEmptyTaskID
	}

	resp, err := o.gateway.CheckTaskStatus(ctx, taskID)
	if err != nil {
		common.WithError(err).WithField("task_id", taskID).Error("Task status check failed")
		return failure(err.Error()), nil
	}
	if !resp.Success {
		r := failure(resp.Error)
		r.TaskID = taskID
		r.Status = resp.Status
		return r, nil
	}
	return &GenerationResult{
		Success:  true,
		ImageURL: resp.ImageURL,
		TaskID:   taskID,
		Async:    resp.ImageURL == "",
		Status:   resp.Status,
	}, nil
}

func failure(msg string) *GenerationResult {
	if strings.TrimSpace(msg) == "" {
		msg = genericFailureMessage
	}
	return &GenerationResult{Success: false, Error: msg}
}
