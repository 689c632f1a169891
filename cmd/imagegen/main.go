package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"imagegen-gateway/common"
	"imagegen-gateway/internal/client"
	"imagegen-gateway/internal/genai"
	"imagegen-gateway/internal/oss"
	"imagegen-gateway/internal/storage"

	"github.com/spf13/cobra"
)

var (
	prompt       string
	images       []string
	instructions string
	params       genai.GenerationParams
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "imagegen [images...]",
		Short:         "Generate or edit images through the generation gateway",
		Long:          "imagegen uploads local images to object storage, calls the generation gateway and prints the resulting image URL.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// 位置参数视为图片路径
			images = append(images, args...)

			orch, err := newOrchestrator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := orch.Submit(ctx, client.GenerationRequest{
				Prompt:       prompt,
				Images:       images,
				Instructions: instructions,
				Params:       params,
			})
			if err != nil {
				return err
			}
			return printResult(cmd, result)
		},
		Example: `imagegen --prompt "a red balloon"
imagegen --prompt "style transfer" --width 1024 --height 1024 photo.jpg`,
	}

	rootCmd.Flags().StringVarP(&prompt, "prompt", "p", "", "Text prompt guiding the generation (required)")
	rootCmd.Flags().StringSliceVar(&images, "images", []string{}, "Zero or more input image paths")
	rootCmd.Flags().StringVar(&instructions, "instructions", "", "Instructions placed before the prompt (gateway default when empty)")
	rootCmd.Flags().IntVar(&params.NumInferenceSteps, "steps", 0, "Inference steps for the fallback service")
	rootCmd.Flags().Float64Var(&params.GuidanceScale, "guidance", 0, "Guidance scale for the fallback service")
	rootCmd.Flags().IntVar(&params.Width, "width", 0, "Output width")
	rootCmd.Flags().IntVar(&params.Height, "height", 0, "Output height")

	rootCmd.AddCommand(newStatusCmd())
	return rootCmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Check the status of an asynchronous generation task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := newOrchestrator()
			if err != nil {
				return err
			}
			result, err := orch.CheckStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd, result)
		},
	}
}

func newOrchestrator() (*client.Orchestrator, error) {
	cfg, err := common.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// stdout 只输出结果
	common.SetLogOutput(os.Stderr)

	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	ossClient, err := oss.NewOSSClientFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	gw, err := client.NewGatewayClientFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway client: %w", err)
	}

	return client.NewOrchestrator(
		storage.NewUploader(ossClient, cfg.OSSBucket),
		gw,
		storage.NewCleaner(ossClient, cfg.OSSBucket),
	), nil
}

func printResult(cmd *cobra.Command, result *client.GenerationResult) error {
	out := cmd.OutOrStdout()
	switch {
	case !result.Success:
		return fmt.Errorf("generation failed: %s", result.Error)
	case result.Async:
		fmt.Fprintf(out, "Task submitted: %s\n", result.TaskID)
		fmt.Fprintf(out, "Check progress with: imagegen status %s\n", result.TaskID)
	default:
		fmt.Fprintf(out, "Generated image: %s\n", result.ImageURL)
	}
	return nil
}

func printStatus(cmd *cobra.Command, result *client.GenerationResult) error {
	out := cmd.OutOrStdout()
	switch {
	case !result.Success:
		return fmt.Errorf("task %s failed: %s", result.TaskID, result.Error)
	case result.ImageURL != "":
		fmt.Fprintf(out, "Task %s completed: %s\n", result.TaskID, result.ImageURL)
	default:
		fmt.Fprintf(out, "Task %s status: %s\n", result.TaskID, result.Status)
	}
	return nil
}
