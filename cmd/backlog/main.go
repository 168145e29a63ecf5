package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/docman-backlog/internal/config"
	"github.com/garyjia/docman-backlog/pkg/utils"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "backlog: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Import the scanned document backlog into the DMS",
		Long: `backlog walks the daily scan folders (MM-DD-YYYY) of the company share in
chronological order, imports every eligible file into the document store and
writes a JSON, CSV and XLSX log per run.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Configuration file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	cmd.AddCommand(
		newRunCmd(),
		newTestCmd(),
		newListCmd(),
		newToolsCmd(),
		newStatsCmd(),
		newLogsCmd(),
	)
	return cmd
}

// bootstrap loads the configuration and builds the logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	loggerCfg := cfg.LoggerOptions()
	if verbose {
		loggerCfg.Level = "debug"
	}
	logger, err := utils.NewLogger(loggerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}
