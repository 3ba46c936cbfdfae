package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rushteam/ctrkit"
	"github.com/rushteam/ctrkit/core"
)

// globalFlags 是所有子命令共享的参数
type globalFlags struct {
	configPath string
	model      string
	backend    string
	keyWidth   int
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "ctrinfer",
		Short:         "CTR inference: embedding lookup, pooling and scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.keyWidth != 32 && g.keyWidth != 64 {
				return fmt.Errorf("--key-width must be 32 or 64, got %d", g.keyWidth)
			}
			if g.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Model config file (.json / .yaml)")
	pf.StringVarP(&g.model, "model", "m", "model", "Model name")
	pf.StringVar(&g.backend, "backend", "local", "Parameter server backend: local | remote_service")
	pf.IntVar(&g.keyWidth, "key-width", 64, "Sparse key width in bits: 32 | 64")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level: debug | info | warn | error")

	rootCmd.AddCommand(
		newPredictCmd(g),
		newGenerateCmd(g),
		newLoadCmd(g),
	)
	return rootCmd
}

func (g *globalFlags) logger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openSession 创建参数服务与 Session，调用方负责关闭返回的参数服务
func openSession[K core.Key](ctx context.Context, g *globalFlags, logger *slog.Logger) (*ctrkit.Session[K], *ctrkit.ParameterServer[K], error) {
	kind, err := core.ParseBackendKind(g.backend)
	if err != nil {
		return nil, nil, err
	}
	return ctrkit.Open[K](ctx, kind, g.configPath, g.model, logger)
}

// printResult 按 labels / predictions 的格式输出一次打分结果
func printResult(cmd *cobra.Command, labels []int, scores []float32, batchSize, samples int, elapsedMs float64) {
	out := cmd.OutOrStdout()
	if len(labels) > 0 {
		fmt.Fprintln(out, "==========================labels===================")
		for _, l := range labels[:min(samples, len(labels))] {
			fmt.Fprintf(out, "%d ", l)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out, "==========================prediction result===================")
	for _, s := range scores[:samples] {
		fmt.Fprintf(out, "%g ", s)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Batch size: %d, Number samples: %d, Time: %.3fms\n", batchSize, samples, elapsedMs)
}
