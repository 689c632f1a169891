package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 主模型提供方
const (
	PrimaryOpenRouter = "openrouter"
	PrimaryGemini     = "gemini"
)

// 服务运行模式
const (
	ModeHTTP  = "http"
	ModeStdio = "stdio"
)

// Config 应用配置结构
type Config struct {
	// 运行模式: http 或 stdio（MCP）
	ServerMode    string
	ServerAddress string
	ServerPort    string

	// 主模型提供方: openrouter 或 gemini
	PrimaryProvider string

	// OpenRouter（chat completion 风格的多模态接口）
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string

	// Gemini SDK（可选的主模型实现）
	GeminiBaseURL string
	GeminiAPIKey  string
	GeminiModel   string

	// fal 队列接口（备用图片生成服务）
	FalKey           string
	FalQueueURL      string
	FalGenerateModel string
	FalEditModel     string
	FalPollInterval  int // 毫秒

	// 单次模型调用超时时间（秒）
	GenAITimeoutSeconds int
	// 默认的生成指令，会拼接在 prompt 前面
	DefaultInstructions string

	// OSS 配置
	OSSEndpoint      string
	OSSRegion        string
	OSSAccessKey     string
	OSSSecretKey     string
	OSSBucket        string
	OSSPublicBaseURL string // 可选：公开访问地址前缀，例如 CDN 或 Supabase public 路径

	// 客户端配置
	GatewayURL    string
	GatewayAPIKey string

	// 日志配置
	LogLevel  string // 日志级别: debug, info, warn, error
	LogFormat string // 日志格式: json, text
	LogOutput string // 输出位置: stdout, stderr, file
	LogFile   string // 日志文件路径（当 LogOutput 为 file 时）
}

// LoadConfig 从 .env 文件加载配置，并初始化日志系统
func LoadConfig() (*Config, error) {
	// .env 文件不存在时直接使用环境变量
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
	}

	config := FromEnv()

	logConfig := &LogConfig{
		Level:    config.LogLevel,
		Format:   config.LogFormat,
		Output:   config.LogOutput,
		FilePath: config.LogFile,
	}
	if err := InitLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return config, nil
}

// FromEnv 仅从当前环境变量构建配置，不做校验
func FromEnv() *Config {
	return &Config{
		ServerMode:    strings.ToLower(getEnv("SERVER_MODE", ModeHTTP)),
		ServerAddress: getEnv("SERVER_ADDRESS", "0.0.0.0"),
		ServerPort:    getEnv("SERVER_PORT", "8080"),

		PrimaryProvider: strings.ToLower(getEnv("PRIMARY_PROVIDER", PrimaryOpenRouter)),

		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterModel:   getEnv("OPENROUTER_MODEL", "google/gemini-2.5-flash-image-preview:free"),

		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash-image-preview"),

		FalKey:           getEnv("FAL_KEY", ""),
		FalQueueURL:      getEnv("FAL_QUEUE_URL", "https://queue.fal.run"),
		FalGenerateModel: getEnv("FAL_GENERATE_MODEL", "fal-ai/nano-banana"),
		FalEditModel:     getEnv("FAL_EDIT_MODEL", "fal-ai/nano-banana/edit"),
		FalPollInterval:  getEnvInt("FAL_POLL_INTERVAL_MS", 1000),

		GenAITimeoutSeconds: getEnvInt("GENAI_TIMEOUT_SECONDS", 120),
		DefaultInstructions: getEnv("DEFAULT_INSTRUCTIONS", "Generate an image."),

		OSSEndpoint:      getEnv("OSS_ENDPOINT", ""),
		OSSRegion:        getEnv("OSS_REGION", "us-east-1"),
		OSSAccessKey:     getEnv("OSS_ACCESS_KEY", ""),
		OSSSecretKey:     getEnv("OSS_SECRET_KEY", ""),
		OSSBucket:        getEnv("OSS_BUCKET", ""),
		OSSPublicBaseURL: getEnv("OSS_PUBLIC_BASE_URL", ""),

		GatewayURL:    getEnv("GATEWAY_URL", ""),
		GatewayAPIKey: getEnv("GATEWAY_API_KEY", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogOutput: getEnv("LOG_OUTPUT", "stdout"),
		LogFile:   getEnv("LOG_FILE", ""),
	}
}

// ValidateGateway 校验网关进程所需的配置
func (c *Config) ValidateGateway() error {
	switch c.ServerMode {
	case ModeHTTP, ModeStdio:
	default:
		return fmt.Errorf("unsupported SERVER_MODE: %s", c.ServerMode)
	}

	switch c.PrimaryProvider {
	case PrimaryOpenRouter:
		if c.OpenRouterAPIKey == "" {
			return fmt.Errorf("OPENROUTER_API_KEY is required when PRIMARY_PROVIDER=%s", c.PrimaryProvider)
		}
	case PrimaryGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when PRIMARY_PROVIDER=%s", c.PrimaryProvider)
		}
	default:
		return fmt.Errorf("unsupported PRIMARY_PROVIDER: %s", c.PrimaryProvider)
	}

	if c.FalKey == "" {
		return fmt.Errorf("FAL_KEY is required")
	}
	if c.OSSBucket == "" {
		return fmt.Errorf("OSS_BUCKET is required")
	}
	return nil
}

// ValidateClient 校验客户端（CLI）所需的配置
func (c *Config) ValidateClient() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("GATEWAY_URL is required")
	}
	if c.OSSBucket == "" {
		return fmt.Errorf("OSS_BUCKET is required")
	}
	return nil
}

// GenAITimeout 返回单次模型调用的超时时间
func (c *Config) GenAITimeout() time.Duration {
	return time.Duration(c.GenAITimeoutSeconds) * time.Second
}

// FalPollEvery 返回 fal 队列的轮询间隔
func (c *Config) FalPollEvery() time.Duration {
	return time.Duration(c.FalPollInterval) * time.Millisecond
}

// GetServerAddr 返回完整的服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.ServerAddress, c.ServerPort)
}

// MaskAPIKey 隐藏 API Key 的敏感部分
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt 获取整型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(value); err == nil {
		return i
	}
	return defaultValue
}
