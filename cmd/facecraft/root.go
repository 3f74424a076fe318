package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"facecraft/internal/app"
	"facecraft/internal/config"
	"facecraft/internal/domain"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/zlog"
)

var (
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:           "facecraft",
	Short:         "Turn portrait photos into ID-style pictures",
	Version:       domain.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zlog.Init()

		if configPath != "" {
			if err := os.Setenv("CONFIG_PATH", configPath); err != nil {
				return fmt.Errorf("failed to set config path: %w", err)
			}
		}

		var err error
		cfg, err = config.MustLoad()
		if err != nil {
			return err
		}
		if err := app.SetLogLevel(cfg.LogLevel); err != nil {
			zlog.Logger.Warn().Err(err).Msg("Keeping default log level")
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides CONFIG_PATH)")
}
