package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yhwhpe/unrug-agent/app"
	"github.com/yhwhpe/unrug-agent/config"
	"github.com/yhwhpe/unrug-agent/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "unrugbot",
	Short: "Chat bot that deploys, launches and checks Unruggable memecoins",
	Long: `unrugbot runs the Unruggable memecoin chat bot.

It reads chat events from Telegram or a RabbitMQ queue, walks users through the
deploy and launch flows, and submits the resulting Starknet transactions through
their connected wallet. Environment variables override values from --config.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration ok (transport %s, chain %s)\n", cfg.Transport, cfg.Starknet.ChainID)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(checkCmd)
}

func run(ctx context.Context) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.New(cfg, app.Deps{Logger: logger})
	if err != nil {
		logger.Error("failed to build application", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
