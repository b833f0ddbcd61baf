package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:           "intaked",
		Short:         "Document intake pipeline daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (env INTAKE_* always applies)")

	root.AddCommand(
		newServeCmd(&configFile),
		newMigrateCmd(&configFile),
	)
	return root
}

func load(configFile string) (*common.Config, *slog.Logger, error) {
	cfg, err := common.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return nil, nil, err
	}
	logger := server.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the result consumer and the health server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(*configFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := server.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			defer app.Close()

			if err := app.Run(ctx); err != nil {
				logger.Error("pipeline stopped with error", "error", err)
				return err
			}
			logger.Info("pipeline stopped")
			return nil
		},
	}
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load(*configFile)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			// ConnectDB migrates on connect
			db, err := server.ConnectDB(ctx, cfg.Database, logger)
			if err != nil {
				return err
			}
			server.CloseDB(db, logger)
			logger.Info("schema up to date", "driver", cfg.Database.Driver)
			return nil
		},
	}
}
