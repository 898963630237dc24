package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/retail-agent/backend/internal/bootstrap"
	"github.com/retail-agent/backend/pkg/config"
	"github.com/retail-agent/backend/pkg/logger"
)

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "catalogctl",
	Short: "Operate the retail catalog store",
	Long: `catalogctl manages the tenant catalog indices: it creates them, loads
spreadsheets into them and runs searches the way the chat agent does.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		color.NoColor = color.NoColor || noColor
		level := "warn"
		if verbose {
			level = "debug"
		}
		return logger.Init(level, "console", "stderr")
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func buildApp(ctx context.Context) (*bootstrap.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return bootstrap.Build(ctx, cfg)
}
