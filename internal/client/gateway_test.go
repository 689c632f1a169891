package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"imagegen-gateway/internal/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatewayClientSendsHeadersAndBody(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate-image", r.URL.Path)
		assert.Equal(t, "Bearer anon", r.Header.Get("Authorization"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true,"images_url":"https://cdn/x.png","message":"Image generated successfully"}`))
	}))
	defer srv.Close()

	c, err := NewGatewayClient(srv.URL+"/", "anon", time.Second)
	require.NoError(t, err)

	req := (&GenerateRequest{Prompt: "p"}).WithParams(genai.GenerationParams{GuidanceScale: 3.5})
	resp, err := c.GenerateImage(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.Equal(t, "https://cdn/x.png", resp.ImagesURL)
	assert.Equal(t, []interface{}{}, got["images"])
	assert.Equal(t, 3.5, got["guidance_scale"])
	_, hasSteps := got["num_inference_steps"]
	assert.False(t, hasSteps)
}

func TestGatewayClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/generate-image":
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"success":false,"error":"no image found in provider response"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`<html>oops</html>`))
		}
	}))
	defer srv.Close()

	c, err := NewGatewayClient(srv.URL, "", time.Second)
	require.NoError(t, err)

	resp, err := c.GenerateImage(context.Background(), &GenerateRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "no image found in provider response", resp.Error)

	_, err = c.CheckTaskStatus(context.Background(), "t1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNewGatewayClientRequiresURL(t *testing.T) {
	_, err := NewGatewayClient("", "", time.Second)
	assert.Error(t, err)
}
