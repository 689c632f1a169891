package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/gateway"
	"imagegen-gateway/internal/genai"

	"github.com/google/uuid"
)

const (
	// 生成请求可能携带 data URI，放宽请求体限制
	maxRequestBodySize = 10 << 20

	readTimeout     = 30 * time.Second
	idleTimeout     = 60 * time.Second
	shutdownTimeout = 30 * time.Second

	allowOrigin  = "*"
	allowMethods = "POST, OPTIONS"
	allowHeaders = "authorization, x-client-info, apikey, content-type"
)

// GeneratorIface 网关能力，便于测试替换
type GeneratorIface interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	CheckStatus(ctx context.Context, taskID string) (*gateway.TaskStatus, error)
}

// Server 以 edge function 风格暴露生成网关
type Server struct {
	addr      string
	generator GeneratorIface
	server    *http.Server
}

// New 创建 HTTP 服务
func New(addr string, generator GeneratorIface) *Server {
	s := &Server{addr: addr, generator: generator}
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// 不设置 WriteTimeout：生成请求可能持续数分钟，由模型调用超时兜底
	}
	return s
}

// Handler 返回带 CORS 处理的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate-image", s.handleGenerate)
	mux.HandleFunc("POST /check-task-status", s.handleCheckStatus)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return withCORS(withRequestID(mux))
}

// ListenAndServe 阻塞直到 ctx 结束，随后优雅退出
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		common.WithField("addr", s.addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// withCORS 所有响应都带跨域头，预检请求直接返回 200
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", allowOrigin)
		h.Set("Access-Control-Allow-Methods", allowMethods)
		h.Set("Access-Control-Allow-Headers", allowHeaders)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// generateRequest 未知字段忽略
type generateRequest struct {
	Prompt            string   `json:"prompt"`
	Images            []string `json:"images"`
	Instructions      string   `json:"instructions,omitempty"`
	NumInferenceSteps *int     `json:"num_inference_steps,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	Width             *int     `json:"width,omitempty"`
	Height            *int     `json:"height,omitempty"`
}

// generateResponse 注意 images_url 是单个 URL
type generateResponse struct {
	Success   bool   `json:"success"`
	ImagesURL string `json:"images_url,omitempty"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

type statusRequest struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"image_url,omitempty"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r generateRequest) toGatewayRequest() gateway.Request {
	req := gateway.Request{
		Prompt:       r.Prompt,
		ImageURLs:    r.Images,
		Instructions: r.Instructions,
	}
	if r.NumInferenceSteps != nil {
		req.Params.NumInferenceSteps = *r.NumInferenceSteps
	}
	if r.GuidanceScale != nil {
		req.Params.GuidanceScale = *r.GuidanceScale
	}
	if r.Width != nil {
		req.Params.Width = *r.Width
	}
	if r.Height != nil {
		req.Params.Height = *r.Height
	}
	return req
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, generateResponse{Success: false, Error: err.Error()})
		return
	}

	logger := common.WithFields(map[string]interface{}{
		"request_id":  requestID(r.Context()),
		"image_count": len(body.Images),
	})

	result, err := s.generator.Generate(r.Context(), body.toGatewayRequest())
	if err != nil {
		logger.WithError(err).Error("Generation failed")
		writeJSON(w, statusFor(err), generateResponse{Success: false, Error: err.Error()})
		return
	}

	logger.WithField("provider", result.Provider).Info("Generation succeeded")
	writeJSON(w, http.StatusOK, generateResponse{
		Success:   true,
		ImagesURL: result.ImageURL,
		Message:   result.Message,
	})
}

func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if err := decodeBody(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false, Error: err.Error()})
		return
	}

	status, err := s.generator.CheckStatus(r.Context(), body.TaskID)
	if err != nil {
		common.WithError(err).WithFields(map[string]interface{}{
			"request_id": requestID(r.Context()),
			"task_id":    body.TaskID,
		}).Error("Task status check failed")
		writeJSON(w, statusFor(err), statusResponse{Success: false, TaskID: body.TaskID, Error: err.Error()})
		return
	}

	// 任务本身失败时仍返回 200，由 success/status 字段表达
	writeJSON(w, http.StatusOK, statusResponse{
		Success:  status.State != genai.TaskFailed,
		ImageURL: status.ImageURL,
		TaskID:   status.TaskID,
		Status:   string(status.State),
		Error:    status.Error,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor 错误分类到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case genai.IsValidation(err):
		return http.StatusBadRequest
	case genai.IsProvider(err), errors.Is(err, genai.ErrNoImage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.WithError(err).Warn("Failed to write response")
	}
}
