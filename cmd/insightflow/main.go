package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/insightflow/insightflow/internal/cli"
	"github.com/insightflow/insightflow/internal/config"
	"github.com/insightflow/insightflow/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := NewInsightFlowCommand()
	err := command.ExecuteContext(ctx)
	_ = zap.L().Sync()
	if err != nil {
		os.Exit(1)
	}
}

func NewInsightFlowCommand() *cobra.Command {
	var logLevel string
	undo := func() {}

	cmd := &cobra.Command{
		Use:           "insightflow [flags] [options]",
		Short:         "insightflow uploads lead sheets for analysis and follows their progress.",
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") {
				cfg, err := config.New()
				if err != nil {
					return err
				}
				logLevel = cfg.Client.LogLevel
			}
			logger := log.InitLog(log.ParseLevel(logLevel))
			undo = zap.ReplaceGlobals(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
			undo()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(cli.NewCmdAnalyze())
	cmd.AddCommand(cli.NewCmdTemplate())
	cmd.AddCommand(cli.NewCmdTheme())
	cmd.AddCommand(cli.NewCmdDevServer())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
