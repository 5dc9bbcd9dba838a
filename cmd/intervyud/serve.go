package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harunnryd/intervyu/pkg/intervyu"
	"github.com/harunnryd/intervyu/pkg/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the interview websocket endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.Init(cfg.LogLevel, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, err := intervyu.NewEngine(ctx, intervyu.EngineOptions{Config: cfg, Logger: logger})
		if err != nil {
			logger.Error("engine_init_failed", "error", err)
			return err
		}
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("engine_stopped", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
