// Command turbine drives an autonomous generation session: it hands a
// project prompt to the orchestrator and supervises it to convergence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/turbine/internal/approval"
	"github.com/fyrsmithlabs/turbine/internal/config"
	"github.com/fyrsmithlabs/turbine/internal/core"
	"github.com/fyrsmithlabs/turbine/internal/interpreter"
	"github.com/fyrsmithlabs/turbine/internal/llm"
	"github.com/fyrsmithlabs/turbine/internal/logging"
	"github.com/fyrsmithlabs/turbine/internal/orchestrator"
	"github.com/fyrsmithlabs/turbine/internal/telemetry"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "turbine",
		Short:         "Autonomous generation orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the turbine version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "turbine %s\n", version)
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		workDir     string
		prompt      string
		configPath  string
		dbPath      string
		maxTurns    int
		approvalDir string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a generation session to convergence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if maxTurns > 0 {
				cfg.Session.MaxTurns = maxTurns
			}
			if dbPath != "" {
				cfg.Session.DBPath = dbPath
			}

			logger, err := logging.New(&cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := telemetry.New(ctx, &cfg.Telemetry)
			if err != nil {
				return err
			}
			defer tel.Shutdown(context.Background())

			llmCfg := cfg.LLM
			if llmCfg.APIKey == "" {
				llmCfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			client, err := llm.NewAnthropicClient(llmCfg, logger)
			if err != nil {
				return err
			}

			var approver interpreter.Approver
			if approvalDir != "" {
				approver, err = approval.NewFileApprover(approvalDir, logger)
				if err != nil {
					return err
				}
			}

			summary, err := orchestrator.Run(ctx, orchestrator.Options{
				WorkDir:         workDir,
				Prompt:          prompt,
				MaxTurns:        cfg.Session.MaxTurns,
				CheckpointEvery: cfg.Session.CheckpointEvery,
				DBPath:          cfg.Session.DBPath,
				LLM:             client,
				Telemetry:       telemetry.NewRecorder(tel, logger),
				Approver:        approver,
				Logger:          logger,
				OnProgress: func(state core.State, _ core.Event) {
					logger.Info("progress",
						zap.String("phase", string(state.Phase)),
						zap.Int("turn", state.Turn),
						zap.Float64("score", state.Confidence.OverallScore),
					)
				},
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"converged=%t phase=%s turns=%d score=%.2f events=%d errors=%d warnings=%d\n",
				summary.Converged, summary.Phase, summary.Turns, summary.Score,
				summary.EventsPersisted, summary.Errors, summary.Warnings,
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workDir, "workdir", "w", ".", "session work directory")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "project prompt (required)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "turbine.yaml", "config file path")
	cmd.Flags().StringVar(&dbPath, "db", "", "event store path (default <workdir>/turbine.db)")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "override the global turn limit")
	cmd.Flags().StringVar(&approvalDir, "approval-dir", "", "directory for file-based checkpoint approval")
	return cmd
}
