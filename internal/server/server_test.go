package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"imagegen-gateway/internal/gateway"
	"imagegen-gateway/internal/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	gotReq    gateway.Request
	gotTask   string
	result    *gateway.Result
	status    *gateway.TaskStatus
	err       error
	callCount int
}

func (f *fakeGenerator) Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	f.callCount++
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeGenerator) CheckStatus(ctx context.Context, taskID string) (*gateway.TaskStatus, error) {
	f.callCount++
	f.gotTask = taskID
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func do(t *testing.T, gen GeneratorIface, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	New(":0", gen).Handler().ServeHTTP(rec, req)
	return rec
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "authorization, x-client-info, apikey, content-type", rec.Header().Get("Access-Control-Allow-Headers"))
}

func TestPreflight(t *testing.T) {
	gen := &fakeGenerator{}
	rec := do(t, gen, http.MethodOptions, "/generate-image", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.Zero(t, gen.callCount)
}

func TestGenerateSuccess(t *testing.T) {
	gen := &fakeGenerator{result: &gateway.Result{
		ImageURL: "https://cdn.example.com/out.png",
		Provider: "openrouter",
		Message:  "Image generated successfully",
	}}
	rec := do(t, gen, http.MethodPost, "/generate-image",
		`{"prompt":"cat","images":["https://a/1.png"],"num_inference_steps":30,"guidance_scale":7.5,"width":512,"height":768}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assertCORS(t, rec)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var resp generateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "https://cdn.example.com/out.png", resp.ImagesURL)
	assert.Equal(t, "Image generated successfully", resp.Message)

	assert.Equal(t, "cat", gen.gotReq.Prompt)
	assert.Equal(t, []string{"https://a/1.png"}, gen.gotReq.ImageURLs)
	assert.Equal(t, genai.GenerationParams{NumInferenceSteps: 30, GuidanceScale: 7.5, Width: 512, Height: 768}, gen.gotReq.Params)
}

func TestGenerateErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &genai.ValidationError{Field: "prompt", Reason: "is required"}, http.StatusBadRequest},
		{"provider", &genai.ProviderError{Provider: "openrouter", StatusCode: 500, Body: "boom"}, http.StatusBadGateway},
		{"no image", genai.ErrNoImage, http.StatusBadGateway},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{err: tt.err}
			rec := do(t, gen, http.MethodPost, "/generate-image", `{"prompt":"cat","images":[]}`)

			assert.Equal(t, tt.code, rec.Code)
			assertCORS(t, rec)

			var resp generateResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestGenerateInvalidBody(t *testing.T) {
	gen := &fakeGenerator{}
	rec := do(t, gen, http.MethodPost, "/generate-image", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertCORS(t, rec)
	assert.Zero(t, gen.callCount)
}

func TestCheckTaskStatus(t *testing.T) {
	gen := &fakeGenerator{status: &gateway.TaskStatus{
		TaskID:   "req-1",
		State:    genai.TaskCompleted,
		ImageURL: "https://fal.media/out.png",
	}}
	rec := do(t, gen, http.MethodPost, "/check-task-status", `{"task_id":"req-1"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.TaskID)
	assert.Equal(t, "COMPLETED", resp.Status)
	assert.Equal(t, "https://fal.media/out.png", resp.ImageURL)
	assert.Equal(t, "req-1", gen.gotTask)
}

func TestCheckTaskStatusFailedTask(t *testing.T) {
	gen := &fakeGenerator{status: &gateway.TaskStatus{
		TaskID: "req-2",
		State:  genai.TaskFailed,
		Error:  "nsfw content",
	}}
	rec := do(t, gen, http.MethodPost, "/check-task-status", `{"task_id":"req-2"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, "nsfw content", resp.Error)
}

func TestCheckTaskStatusValidation(t *testing.T) {
	gen := &fakeGenerator{err: &genai.ValidationError{Field: "task_id", Reason: "is required"}}
	rec := do(t, gen, http.MethodPost, "/check-task-status", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertCORS(t, rec)
}

func TestHealthz(t *testing.T) {
	rec := do(t, &fakeGenerator{}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "abc")
	rec := httptest.NewRecorder()
	New(":0", &fakeGenerator{}).Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get("X-Request-Id"))
}
