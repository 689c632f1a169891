package common

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_MODE", "PRIMARY_PROVIDER", "OPENROUTER_MODEL", "FAL_POLL_INTERVAL_MS", "GENAI_TIMEOUT_SECONDS", "DEFAULT_INSTRUCTIONS"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ModeHTTP, cfg.ServerMode)
	assert.Equal(t, PrimaryOpenRouter, cfg.PrimaryProvider)
	assert.Equal(t, "google/gemini-2.5-flash-image-preview:free", cfg.OpenRouterModel)
	assert.Equal(t, "Generate an image.", cfg.DefaultInstructions)
	assert.Equal(t, 120*time.Second, cfg.GenAITimeout())
	assert.Equal(t, time.Second, cfg.FalPollEvery())
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_MODE", "STDIO")
	t.Setenv("PRIMARY_PROVIDER", "Gemini")
	t.Setenv("GENAI_TIMEOUT_SECONDS", "30")
	t.Setenv("FAL_POLL_INTERVAL_MS", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, ModeStdio, cfg.ServerMode)
	assert.Equal(t, PrimaryGemini, cfg.PrimaryProvider)
	assert.Equal(t, 30*time.Second, cfg.GenAITimeout())
	assert.Equal(t, 1000, cfg.FalPollInterval)
}

func TestValidateGateway(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ServerMode:       ModeHTTP,
			PrimaryProvider:  PrimaryOpenRouter,
			OpenRouterAPIKey: "sk-or",
			FalKey:           "fal",
			OSSBucket:        "images",
		}
	}
	require.NoError(t, valid().ValidateGateway())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.ServerMode = "grpc" }, "SERVER_MODE"},
		{"bad provider", func(c *Config) { c.PrimaryProvider = "dalle" }, "PRIMARY_PROVIDER"},
		{"missing openrouter key", func(c *Config) { c.OpenRouterAPIKey = "" }, "OPENROUTER_API_KEY"},
		{"missing gemini key", func(c *Config) { c.PrimaryProvider = PrimaryGemini }, "GEMINI_API_KEY"},
		{"missing fal key", func(c *Config) { c.FalKey = "" }, "FAL_KEY"},
		{"missing bucket", func(c *Config) { c.OSSBucket = "" }, "OSS_BUCKET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.ValidateGateway()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateClient(t *testing.T) {
	assert.Error(t, (&Config{OSSBucket: "images"}).ValidateClient())
	assert.Error(t, (&Config{GatewayURL: "http://gw"}).ValidateClient())
	assert.NoError(t, (&Config{GatewayURL: "http://gw", OSSBucket: "images"}).ValidateClient())
}

func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "****", MaskAPIKey("short"))
	assert.Equal(t, "sk-o****7890", MaskAPIKey("sk-or-1234567890"))
}

func TestLoggerWritesStructuredFields(t *testing.T) {
	require.NoError(t, InitLogger(&LogConfig{Level: "debug", Format: "json"}))
	var buf bytes.Buffer
	SetLogOutput(&buf)

	WithField("bucket", "images").Info("hello")
	assert.Contains(t, buf.String(), `"bucket":"images"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), "config_test.go:")
}
