package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/gateway"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/genai/fal"
	"imagegen-gateway/internal/genai/gemini"
	"imagegen-gateway/internal/genai/openrouter"
	"imagegen-gateway/internal/oss"
	httpserver "imagegen-gateway/internal/server"
	"imagegen-gateway/internal/storage"
	"imagegen-gateway/internal/tools"

	"github.com/mark3labs/mcp-go/server"
)

func main() {
	// 加载配置
	config, err := common.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ValidateGateway(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	// stdio 模式下 stdout 被 MCP 协议占用
	if config.ServerMode == common.ModeStdio {
		common.SetLogOutput(os.Stderr)
	}

	// 打印配置信息（隐藏敏感信息）
	fmt.Fprintf(os.Stderr, "Server starting...\n")
	fmt.Fprintf(os.Stderr, "Mode: %s\n", config.ServerMode)
	fmt.Fprintf(os.Stderr, "Primary provider: %s\n", config.PrimaryProvider)
	fmt.Fprintf(os.Stderr, "OpenRouter API Key: %s\n", common.MaskAPIKey(config.OpenRouterAPIKey))
	fmt.Fprintf(os.Stderr, "fal Key: %s\n", common.MaskAPIKey(config.FalKey))
	fmt.Fprintf(os.Stderr, "OSS Bucket: %s\n", config.OSSBucket)

	ossClient, err := oss.NewOSSClientFromConfig(config)
	if err != nil {
		log.Fatalf("Failed to create OSS client: %v", err)
	}

	primary, err := newPrimary(config)
	if err != nil {
		log.Fatalf("Failed to create primary provider: %v", err)
	}

	falClient, err := fal.NewClientFromConfig(config)
	if err != nil {
		log.Fatalf("Failed to create fal client: %v", err)
	}

	svc, err := gateway.NewService(
		primary,
		falClient,
		storage.NewCleaner(ossClient, config.OSSBucket),
		gateway.WithInstructions(config.DefaultInstructions),
		gateway.WithTaskChecker(falClient),
	)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	switch config.ServerMode {
	case common.ModeStdio:
		s := server.NewMCPServer(
			"Image Generation Gateway",
			"1.0.0",
			server.WithToolCapabilities(true),
		)
		if err := tools.RegisterGatewayTools(s, svc); err != nil {
			log.Fatalf("Failed to register gateway tools: %v", err)
		}
		if err := server.ServeStdio(s); err != nil {
			log.Fatalf("Server error: %v", err)
		}
	default:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := httpserver.New(config.GetServerAddr(), svc).ListenAndServe(ctx); err != nil {
			log.Fatalf("Server error: %v", err)
		}
		common.Info("Server stopped")
	}
}

// newPrimary 按配置选择主模型
func newPrimary(config *common.Config) (genai.PrimaryIface, error) {
	switch config.PrimaryProvider {
	case common.PrimaryGemini:
		return gemini.NewClientFromConfig(config)
	default:
		return openrouter.NewClientFromConfig(config)
	}
}
