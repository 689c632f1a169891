package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"imagegen-gateway/internal/gateway"
	"imagegen-gateway/internal/genai"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// GatewayIface MCP tools 依赖的网关能力
type GatewayIface interface {
	Generate(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	CheckStatus(ctx context.Context, taskID string) (*gateway.TaskStatus, error)
}

// RegisterGatewayTools 注册图片生成和任务查询的 MCP tools
func RegisterGatewayTools(s *server.MCPServer, gw GatewayIface) error {
	if gw == nil {
		return fmt.Errorf("gateway is required")
	}

	generateImageTool := mcp.NewTool(
		"generate_image",
		mcp.WithDescription("Generate or edit an image from a text prompt. Falls back to a secondary service when the primary model returns no image. Returns the generated image URL."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("Text prompt describing the image to generate"),
		),
		mcp.WithString("image_urls",
			mcp.Description("Optional JSON array of input image URLs, e.g. [\"https://example.com/a.png\"]. The images are deleted from storage after the request."),
		),
		mcp.WithString("instructions",
			mcp.Description("Optional instructions placed before the prompt"),
		),
		mcp.WithNumber("num_inference_steps",
			mcp.Description("Optional inference steps for the fallback service"),
		),
		mcp.WithNumber("guidance_scale",
			mcp.Description("Optional guidance scale for the fallback service"),
		),
		mcp.WithNumber("width",
			mcp.Description("Optional output width in pixels for the fallback service"),
		),
		mcp.WithNumber("height",
			mcp.Description("Optional output height in pixels for the fallback service"),
		),
	)
	s.AddTool(generateImageTool, generateImageHandler(gw))

	checkTaskTool := mcp.NewTool(
		"check_task_status",
		mcp.WithDescription("Check the status of an asynchronous image generation task. Returns the state and, when completed, the image URL."),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID returned by the fallback service"),
		),
	)
	s.AddTool(checkTaskTool, checkTaskHandler(gw))

	return nil
}

func generateImageHandler(gw GatewayIface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("prompt parameter is required: %v", err)), nil
		}

		imageURLs, err := parseImageURLs(req.GetString("image_urls", ""))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result, err := gw.Generate(ctx, gateway.Request{
			Prompt:       prompt,
			ImageURLs:    imageURLs,
			Instructions: req.GetString("instructions", ""),
			Params: genai.GenerationParams{
				NumInferenceSteps: int(req.GetFloat("num_inference_steps", 0)),
				GuidanceScale:     req.GetFloat("guidance_scale", 0),
				Width:             int(req.GetFloat("width", 0)),
				Height:            int(req.GetFloat("height", 0)),
			},
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to generate image: %v", err)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Generated image (%s): %s", result.Provider, result.ImageURL)), nil
	}
}

func checkTaskHandler(gw GatewayIface) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("task_id parameter is required: %v", err)), nil
		}

		status, err := gw.CheckStatus(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to check task status: %v", err)), nil
		}

		switch status.State {
		case genai.TaskCompleted:
			return mcp.NewToolResultText(fmt.Sprintf("Task %s completed: %s", status.TaskID, status.ImageURL)), nil
		case genai.TaskFailed:
			return mcp.NewToolResultError(fmt.Sprintf("Task %s failed: %s", status.TaskID, status.Error)), nil
		default:
			return mcp.NewToolResultText(fmt.Sprintf("Task %s status: %s", status.TaskID, status.State)), nil
		}
	}
}

// parseImageURLs 解析 JSON 数组形式的图片地址，空字符串视为无输入
func parseImageURLs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil, fmt.Errorf("image_urls must be a JSON array of strings: %v", err)
	}
	return urls, nil
}
