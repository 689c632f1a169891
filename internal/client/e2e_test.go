package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"imagegen-gateway/internal/gateway"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/genai/openrouter"
	"imagegen-gateway/internal/oss/osstest"
	"imagegen-gateway/internal/server"
	"imagegen-gateway/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBucket = "images"

type stubPrimary struct {
	images []genai.ImageDescriptor
	got    []genai.Message
}

func (s *stubPrimary) Name() string { return "openrouter" }

func (s *stubPrimary) Complete(ctx context.Context, msg genai.Message) (*genai.Completion, error) {
	s.got = append(s.got, msg)
	return &genai.Completion{Images: s.images}, nil
}

type stubSecondary struct {
	images    []genai.ImageDescriptor
	editURLs  [][]string
	textCalls int
}

func (s *stubSecondary) Name() string { return "fal" }

func (s *stubSecondary) Edit(ctx context.Context, prompt string, urls []string, p genai.GenerationParams) ([]genai.ImageDescriptor, error) {
	s.editURLs = append(s.editURLs, append([]string(nil), urls...))
	return s.images, nil
}

func (s *stubSecondary) TextToImage(ctx context.Context, prompt string, p genai.GenerationParams) ([]genai.ImageDescriptor, error) {
	s.textCalls++
	return s.images, nil
}

type stack struct {
	store   *osstest.MemoryClient
	orch    *Orchestrator
	mu      sync.Mutex
	bodies  []map[string]interface{}
	gateway *httptest.Server
}

// newStack 内存存储 + 真实网关 HTTP 服务 + 网关客户端
func newStack(t *testing.T, primary genai.PrimaryIface, secondary genai.SecondaryIface) *stack {
	t.Helper()
	st := &stack{store: osstest.NewMemoryClient("https://store")}

	svc, err := gateway.NewService(primary, secondary, storage.NewCleaner(st.store, testBucket))
	require.NoError(t, err)

	handler := server.New(":0", svc).Handler()
	st.gateway = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		if json.Unmarshal(raw, &body) == nil {
			st.mu.Lock()
			st.bodies = append(st.bodies, body)
			st.mu.Unlock()
		}
		r.Body = io.NopCloser(bytes.NewReader(raw))
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(st.gateway.Close)

	gw, err := NewGatewayClient(st.gateway.URL, "anon-key", 10*time.Second)
	require.NoError(t, err)

	st.orch = NewOrchestrator(storage.NewUploader(st.store, testBucket), gw, storage.NewCleaner(st.store, testBucket))
	return st
}

func writeLocalImage(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("\x89PNG fake"), 0o644))
	return p
}

func TestEndToEndTextOnly(t *testing.T) {
	primary := &stubPrimary{images: []genai.ImageDescriptor{genai.NestedImage("https://cdn/balloon.png")}}
	secondary := &stubSecondary{}
	st := newStack(t, primary, secondary)

	res, err := st.orch.Submit(context.Background(), GenerationRequest{Prompt: "a red balloon"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "https://cdn/balloon.png", res.ImageURL)

	require.Len(t, st.bodies, 1)
	assert.Equal(t, []interface{}{}, st.bodies[0]["images"])
	require.Len(t, primary.got, 1)
	assert.Empty(t, primary.got[0].ImageURLs())
	assert.Zero(t, secondary.textCalls)
	assert.Empty(t, secondary.editURLs)
}

func TestEndToEndFallbackEdit(t *testing.T) {
	primary := &stubPrimary{}
	secondary := &stubSecondary{images: []genai.ImageDescriptor{genai.BareImage("https://fal/out.png")}}
	st := newStack(t, primary, secondary)

	res, err := st.orch.Submit(context.Background(), GenerationRequest{
		Prompt: "style transfer",
		Images: []string{writeLocalImage(t, "imgA.jpg")},
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "https://fal/out.png", res.ImageURL)

	require.Len(t, st.store.Uploads, 1)
	key := st.store.Uploads[0]
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	uploadedURL := "https://store/" + testBucket + "/" + key

	require.Len(t, secondary.editURLs, 1)
	assert.Equal(t, []string{uploadedURL}, secondary.editURLs[0])
	assert.Zero(t, secondary.textCalls)

	// 生成结束后输入图片已被清理
	assert.Equal(t, []string{key}, st.store.Deletes)
	assert.False(t, st.store.Has(testBucket, key))
}

func TestEndToEndPrimaryServerError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"upstream exploded"}`))
	}))
	defer upstream.Close()

	primary, err := openrouter.NewClient(openrouter.Config{
		BaseURL: upstream.URL,
		APIKey:  "sk-test",
		Model:   "google/gemini-2.5-flash-image-preview:free",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	secondary := &stubSecondary{images: []genai.ImageDescriptor{genai.BareImage("https://fal/never.png")}}
	st := newStack(t, primary, secondary)

	res, err := st.orch.Submit(context.Background(), GenerationRequest{
		Prompt: "a cat",
		Images: []string{writeLocalImage(t, "cat.png")},
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "500")
	assert.Empty(t, secondary.editURLs)
	assert.Zero(t, secondary.textCalls)

	require.Len(t, st.store.Uploads, 1)
	assert.Equal(t, st.store.Uploads, st.store.Deletes)
	assert.Zero(t, st.store.Len())
}

func TestEndToEndValidationRejectedBeforeNetwork(t *testing.T) {
	st := newStack(t, &stubPrimary{}, &stubSecondary{})

	_, err := st.orch.Submit(context.Background(), GenerationRequest{Prompt: "  ", Images: []string{writeLocalImage(t, "a.png")}})
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, st.store.Uploads)
	assert.Empty(t, st.bodies)
}
