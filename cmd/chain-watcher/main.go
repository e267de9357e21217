package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mitul-open-wallet/cosmos-stream/internal/config"
	"github.com/mitul-open-wallet/cosmos-stream/internal/constants"
	"github.com/mitul-open-wallet/cosmos-stream/internal/logger"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chain-watcher",
		Short: "Cosmos chain transfer watcher",
		Long:  "Chain watcher subscribes to Cosmos chain websockets and publishes normalized transfer payloads to a message broker",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tailCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, logger.Logger, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the configured chains and publish transfers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			defer log.Sync()

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(signals)

			ctx := logging.WithServiceName(context.Background(), constants.ServiceName)
			log.InfowCtx(ctx, "Starting chain watcher", "chains", cfg.Chains.IDs, "broker", cfg.Broker.Type)

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return err
			}

			runErr := app.Run(ctx, signals)
			if err := app.Shutdown(ctx); err != nil {
				log.ErrorwCtx(ctx, "Shutdown finished with errors", "error", err)
			}
			if runErr != nil {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

func tailCmd() *cobra.Command {
	var chainID string

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print payloads published for one chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			err = runTail(ctx, cfg, chainID, cmd.OutOrStdout(), log)
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chainID, "chain", "", "Chain id to tail (defaults to the first configured chain)")
	return cmd
}
