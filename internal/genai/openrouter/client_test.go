package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"imagegen-gateway/internal/genai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "test/model"})
	require.NoError(t, err)
	return c
}

func TestCompleteSendsMultimodalRequest(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"here","images":[{"type":"image_url","image_url":{"url":"https://out/1.png"}}]}}]}`))
	})

	msg := genai.BuildMessage("Generate an image.", "style transfer", []string{"https://store/a.jpg", "https://store/b.jpg"})
	completion, err := c.Complete(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "test/model", got.Model)
	assert.Equal(t, "image_url", got.ResponseFormat.Type)
	require.Len(t, got.Messages, 1)
	content := got.Messages[0].Content
	require.Len(t, content, 3)
	assert.Equal(t, "text", content[0].Type)
	assert.Equal(t, "Generate an image. style transfer", content[0].Text)
	assert.Equal(t, "https://store/a.jpg", content[1].ImageURL.URL)
	assert.Equal(t, "https://store/b.jpg", content[2].ImageURL.URL)

	require.Len(t, completion.Images, 1)
	assert.Equal(t, "https://out/1.png", completion.Images[0].URL)
	assert.Equal(t, "here", completion.Text)
}

func TestCompleteNonSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := c.Complete(context.Background(), genai.BuildMessage("x", "y", nil))
	require.Error(t, err)

	var perr *genai.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 500, perr.StatusCode)
	assert.Equal(t, "upstream exploded", perr.Body)
	assert.Contains(t, err.Error(), "500")
}

func TestParseResponseMalformedVersusEmpty(t *testing.T) {
	for _, body := range []string{`{}`, `{"choices":[]}`, `{"choices":[{}]}`, `not json`} {
		_, err := parseResponse([]byte(body))
		assert.True(t, genai.IsProvider(err), "body %q should be a provider error", body)
	}

	completion, err := parseResponse([]byte(`{"choices":[{"message":{"content":"I can only describe it."}}]}`))
	require.NoError(t, err)
	assert.Empty(t, completion.Images)
	assert.Equal(t, "I can only describe it.", completion.Text)
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k", Model: "m"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x", Model: "m"})
	assert.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://x", APIKey: "k"})
	assert.Error(t, err)
}
